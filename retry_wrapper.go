package aigen

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/JohnPlummer/jp-go-aigen/problem"
)

// RetryWrapper wraps a ResilientClient with the RetryPolicy attempt loop.
// Attempts run strictly in sequence: attempt 0, then each retry after its
// backoff. Every failure is classified first; only the transient kinds
// (RateLimited, Timeout, ProviderError, ServiceUnavailable) are retried.
type RetryWrapper[Req, Resp any] struct {
	client     ResilientClient[Req, Resp]
	config     *RetryConfig
	logger     *slog.Logger
	classifier ErrorClassifier
	stats      *retryStats
}

// retryStats tracks retry operation statistics.
type retryStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	lastAttemptTime time.Time
	lastError       error
}

// NewRetryWrapper creates a new retry wrapper around a ResilientClient.
// The policy is validated up front; an out-of-range policy or a nil client
// fails with ai/invalid-config.
//
// Example:
//
//	wrapper, err := aigen.NewRetryWrapper(
//	    provider,
//	    aigen.WithPolicy(aigen.RetryPolicy{MaxRetries: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}),
//	)
func NewRetryWrapper[Req, Resp any](
	client ResilientClient[Req, Resp],
	opts ...RetryOption,
) (*RetryWrapper[Req, Resp], error) {
	if client == nil {
		return nil, ErrInvalidConfig.New(problem.WithDetail("retry wrapper needs a client"))
	}

	config := DefaultRetryConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, invalidConfig(err)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier()
	}

	if config.stats == nil {
		config.stats = &retryStats{}
	}

	return &RetryWrapper[Req, Resp]{
		client:     client,
		config:     config,
		logger:     config.Logger,
		classifier: config.ErrorClassifier,
		stats:      config.stats,
	}, nil
}

// Execute performs the request with retry logic.
//
// It returns the first successful response. A non-retryable failure is
// returned after that single attempt. When every attempt failed with a
// transient error the result is ai/retry-exhausted wrapping the last failure.
// Cancelling ctx aborts the current attempt and skips the remaining retries.
func (w *RetryWrapper[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	resp, _, err := w.execute(ctx, req)
	return resp, err
}

func (w *RetryWrapper[Req, Resp]) execute(ctx context.Context, req Req) (Resp, int, error) {
	var zero Resp
	policy := w.config.Policy

	// Check if parent context is done before attempting any requests
	if err := ctx.Err(); err != nil {
		w.logger.Warn("context already done before request (expected condition)",
			"error", err)
		return zero, 0, canceledError(err, 0, nil)
	}

	var (
		response      Resp
		attempts      int
		lastErr       error
		lastRetryable bool
	)

	backoff := retry.WithMaxRetries(
		uint64(policy.MaxRetries), // #nosec G115 - bounded by RetryPolicy.Validate
		retry.BackoffFunc(func() (time.Duration, bool) {
			// Called after a failed attempt; attempts is already counted.
			return policy.Backoff(attempts - 1), false
		}),
	)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt := attempts
		attempts++

		w.stats.mu.Lock()
		w.stats.totalAttempts++
		if attempt > 0 {
			w.stats.totalRetries++
		}
		w.stats.lastAttemptTime = time.Now()
		w.stats.mu.Unlock()

		resp, err := w.client.Execute(ctx, req)
		if err == nil {
			if attempt > 0 {
				w.logger.Info("request succeeded after retry",
					"attempts", attempts)
			}
			response = resp
			return nil
		}

		classified := w.classifier.Classify(err)
		lastErr = classified
		lastRetryable = IsRetryable(classified)

		if !lastRetryable {
			w.logger.Debug("non-retryable error, giving up",
				"error", classified,
				"attempts", attempts)
			return classified
		}

		if attempt < policy.MaxRetries {
			w.logger.Debug("retrying request after delay",
				"attempt", attempts,
				"code", errorCode(classified),
				"delay", policy.Delay(attempt))
		}

		return retry.RetryableError(classified)
	})
	if err == nil {
		w.stats.mu.Lock()
		w.stats.totalSuccesses++
		w.stats.mu.Unlock()
		return response, attempts, nil
	}

	switch {
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		err = canceledError(ctx.Err(), attempts, lastErr)
	case lastRetryable:
		err = ErrRetryExhausted.New(
			problem.WithDetailf("gave up after %d attempts", attempts),
			problem.WithMeta(map[string]any{
				"maxRetries": policy.MaxRetries,
				"attempts":   attempts,
				"lastError":  errorCode(lastErr),
			}),
			problem.WithCause(lastErr),
		)
	}

	w.logger.Warn("request failed after retries",
		"attempts", attempts,
		"error", err)

	w.stats.mu.Lock()
	w.stats.totalFailures++
	w.stats.lastError = err
	w.stats.mu.Unlock()

	return zero, attempts, err
}

// canceledError reports that the caller gave up. It is classified as a
// timeout so the boundary renders it like any other expired call.
func canceledError(ctxErr error, attempts int, last error) error {
	cause := ctxErr
	if last != nil {
		cause = errors.Join(ctxErr, last)
	}
	return ErrTimeout.New(
		problem.WithDetail("generation canceled by caller"),
		problem.WithMeta(map[string]any{
			"reason":   cancelReason(ctxErr),
			"attempts": attempts,
		}),
		problem.WithCause(cause),
	)
}

// cancelReason tells a caller's deadline apart from an explicit cancel.
func cancelReason(ctxErr error) string {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return "deadline"
	}
	return "canceled"
}

func errorCode(err error) string {
	if e, ok := problem.As(err); ok {
		return e.Code()
	}
	return "unknown"
}

// RetryStats holds statistics about retry operations.
type RetryStats struct {
	// TotalAttempts is the total number of attempts made (including initial and retries)
	TotalAttempts int64

	// TotalRetries is the number of retry attempts (not including initial attempts)
	TotalRetries int64

	// TotalSuccesses is the number of successful operations
	TotalSuccesses int64

	// TotalFailures is the number of failed operations (after all retries exhausted)
	TotalFailures int64

	// LastAttemptTime is the time of the last attempt
	LastAttemptTime time.Time

	// LastError is the last error encountered (if any)
	LastError error
}

// GetRetryStats returns statistics about retry operations.
// This method is thread-safe and returns a snapshot of the current statistics.
func (w *RetryWrapper[Req, Resp]) GetRetryStats() RetryStats {
	return w.stats.snapshot()
}

func (s *retryStats) snapshot() RetryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return RetryStats{
		TotalAttempts:   s.totalAttempts,
		TotalRetries:    s.totalRetries,
		TotalSuccesses:  s.totalSuccesses,
		TotalFailures:   s.totalFailures,
		LastAttemptTime: s.lastAttemptTime,
		LastError:       s.lastError,
	}
}
