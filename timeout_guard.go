package aigen

import (
	"context"
	"errors"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"

	"github.com/JohnPlummer/jp-go-aigen/problem"
)

// TimeoutGuard races a single call against a deadline.
//
// The wrapped call runs in its own goroutine with a context that is
// cancelled when the timeout expires, and Execute returns as soon as either
// the call completes or the deadline passes. The caller therefore never
// waits longer than the timeout, even for a client that ignores its context.
// Whether the remote side actually stops processing is best-effort: an
// abandoned call may keep running until the provider notices the
// cancellation.
type TimeoutGuard[Req, Resp any] struct {
	client  ResilientClient[Req, Resp]
	timeout time.Duration
	model   string
}

// NewTimeoutGuard wraps client so that each Execute is bounded by timeout.
// model is reported in the metadata of timeout errors.
func NewTimeoutGuard[Req, Resp any](client ResilientClient[Req, Resp], timeout time.Duration, model string) *TimeoutGuard[Req, Resp] {
	return &TimeoutGuard[Req, Resp]{
		client:  client,
		timeout: timeout,
		model:   model,
	}
}

type guardResult[Resp any] struct {
	resp Resp
	err  error
}

// Execute implements ResilientClient.
func (g *TimeoutGuard[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// Buffered so an abandoned call can always deliver its result and exit.
	done := make(chan guardResult[Resp], 1)
	go func() {
		resp, err := g.client.Execute(attemptCtx, req)
		done <- guardResult[Resp]{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.resp, nil
		}
		if ctx.Err() != nil {
			return zero, g.canceledError(ctx.Err())
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			// The call noticed the deadline before we did.
			return zero, g.timeoutError(r.err)
		}
		return r.resp, r.err
	case <-attemptCtx.Done():
		if parentErr := ctx.Err(); parentErr != nil {
			return zero, g.canceledError(parentErr)
		}
		return zero, g.timeoutError(attemptCtx.Err())
	}
}

func (g *TimeoutGuard[Req, Resp]) canceledError(cause error) error {
	return ErrTimeout.New(
		problem.WithDetail("provider call canceled"),
		problem.WithMeta(map[string]any{
			"timeoutMs": g.timeout.Milliseconds(),
			"model":     g.model,
			"reason":    cancelReason(cause),
		}),
		problem.WithCause(cause),
	)
}

func (g *TimeoutGuard[Req, Resp]) timeoutError(cause error) error {
	return ErrTimeout.New(
		problem.WithDetailf("provider call exceeded %s", g.timeout),
		problem.WithMeta(map[string]any{
			"timeoutMs": g.timeout.Milliseconds(),
			"model":     g.model,
		}),
		problem.WithCause(errors.Join(
			jperrors.NewTimeoutError("provider call timed out", "generate", g.timeout),
			cause,
		)),
	)
}
