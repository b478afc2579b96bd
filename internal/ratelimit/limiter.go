// Package ratelimit provides a fixed-window request limiter keyed by caller
// identity, and a gin middleware that rejects excess requests with a
// request/rate-limited problem document.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// storePrefix namespaces the limiter's keys in its store.
const storePrefix = "aigen"

// Decision is the outcome of Allow.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits at most limit requests per key in each fixed window.
// It is safe for concurrent use.
type Limiter struct {
	limit  int
	window time.Duration
	store  limiter.Store
	rate   *limiter.Limiter
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithStore replaces the in-memory counter store, e.g. with a shared one
// when several server instances must agree on the budget.
func WithStore(store limiter.Store) LimiterOption {
	return func(l *Limiter) {
		l.store = store
	}
}

// New creates a limiter that admits limit requests per window.
func New(limit int, window time.Duration, opts ...LimiterOption) (*Limiter, error) {
	if limit < 1 {
		return nil, fmt.Errorf("ratelimit: limit must be at least 1, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %v", window)
	}

	l := &Limiter{limit: limit, window: window}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          storePrefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		})
	}
	l.rate = limiter.New(l.store, limiter.Rate{
		Formatted: fmt.Sprintf("%d-%v", limit, window),
		Period:    window,
		Limit:     int64(limit),
	})
	return l, nil
}

// Limit returns the number of requests admitted per window.
func (l *Limiter) Limit() int {
	return l.limit
}

// Window returns the window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Allow records a request for key and reports whether it is admitted.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	lctx, err := l.rate.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: %w", err)
	}
	return decision(lctx, time.Now()), nil
}

func decision(lctx limiter.Context, now time.Time) Decision {
	d := Decision{
		Allowed:   !lctx.Reached,
		Limit:     int(lctx.Limit),
		Remaining: int(lctx.Remaining),
	}
	if lctx.Reached {
		d.RetryAfter = time.Unix(lctx.Reset, 0).Sub(now)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d
}
