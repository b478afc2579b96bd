package aigen

import (
	"context"
	"errors"
	"log/slog"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"

	"github.com/JohnPlummer/jp-go-aigen/problem"
)

// CircuitBreakerWrapper wraps a ResilientClient with circuit breaker functionality.
// It tracks failures and opens the circuit when too many failures occur,
// so a failing provider is not hammered by every retry of every caller.
type CircuitBreakerWrapper[Req, Resp any] struct {
	client     ResilientClient[Req, Resp]
	cb         *gobreaker.CircuitBreaker[Resp]
	logger     *slog.Logger
	classifier CircuitBreakerErrorClassifier
}

// NewCircuitBreakerWrapper creates a new circuit breaker wrapper around a ResilientClient.
//
// Example:
//
//	wrapper := aigen.NewCircuitBreakerWrapper(
//	    provider,
//	    aigen.WithMaxRequests(5),
//	    aigen.WithBreakerTimeout(60*time.Second),
//	)
func NewCircuitBreakerWrapper[Req, Resp any](
	client ResilientClient[Req, Resp],
	opts ...CircuitBreakerOption,
) *CircuitBreakerWrapper[Req, Resp] {
	config := DefaultCircuitBreakerConfig()
	for _, opt := range opts {
		opt(config)
	}
	return newCircuitBreakerWrapper(client, config)
}

func newCircuitBreakerWrapper[Req, Resp any](client ResilientClient[Req, Resp], config *CircuitBreakerConfig) *CircuitBreakerWrapper[Req, Resp] {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultCircuitBreakerErrorClassifier()
	}

	if config.Name == "" {
		config.Name = "provider"
	}

	if config.ReadyToTrip == nil {
		config.ReadyToTrip = DefaultCircuitBreakerConfig().ReadyToTrip
	}

	classifier := config.ErrorClassifier

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.ReadyToTrip(convertGobreakerCounts(counts))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			config.Logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			if config.OnStateChange != nil {
				config.OnStateChange(name, convertGobreakerState(from), convertGobreakerState(to))
			}
		},
		// Failures not blamed on the provider count as successes.
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier.ShouldTripCircuit(err)
		},
	}

	return &CircuitBreakerWrapper[Req, Resp]{
		client:     client,
		cb:         gobreaker.NewCircuitBreaker[Resp](settings),
		logger:     config.Logger,
		classifier: classifier,
	}
}

// Execute runs the request through the breaker. A request rejected because
// the circuit is open, or half-open with its probe budget spent, never
// reaches the underlying client and fails with ai/service-unavailable.
// Other failures are returned unchanged.
func (w *CircuitBreakerWrapper[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	resp, err := w.cb.Execute(func() (Resp, error) {
		return w.client.Execute(ctx, req)
	})
	if err == nil {
		return resp, nil
	}

	var zero Resp
	circuit, rejected := rejectedBy(err)
	if !rejected {
		w.logger.Debug("provider call failed behind circuit breaker",
			"error", err,
			"counts_as_failure", w.classifier.ShouldTripCircuit(err))
		return zero, err
	}

	w.logger.Warn("circuit breaker rejected request",
		"circuit", circuit,
		"state", w.cb.State().String())
	return zero, w.rejection(circuit, err)
}

// rejectedBy reports whether err is a gobreaker rejection and which circuit
// state caused it.
func rejectedBy(err error) (string, bool) {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return "open", true
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return "half-open", true
	}
	return "", false
}

func (w *CircuitBreakerWrapper[Req, Resp]) rejection(circuit string, err error) error {
	counts := w.Counts()
	return ErrServiceUnavailable.New(
		problem.WithDetail("provider circuit breaker rejected the request"),
		problem.WithField("circuit", circuit),
		problem.WithCause(jperrors.NewCircuitBreakerError(
			"request rejected",
			"execute",
			circuit,
			jperrors.WithCause(err),
			jperrors.WithCounts(jperrors.CircuitCounts{
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
			}),
		)),
	)
}

// State returns the current state of the circuit breaker.
func (w *CircuitBreakerWrapper[Req, Resp]) State() CircuitBreakerState {
	return convertGobreakerState(w.cb.State())
}

// Counts returns the current counts of the circuit breaker.
func (w *CircuitBreakerWrapper[Req, Resp]) Counts() CircuitBreakerCounts {
	return convertGobreakerCounts(w.cb.Counts())
}

func convertGobreakerState(state gobreaker.State) CircuitBreakerState {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

func convertGobreakerCounts(counts gobreaker.Counts) CircuitBreakerCounts {
	return CircuitBreakerCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}
