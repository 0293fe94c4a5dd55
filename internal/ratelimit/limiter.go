// Package ratelimit provides the sliding-window limiter guarding the admin
// login endpoint. It is a secondary defense in front of the lockout ledger,
// keyed by client IP.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cabildo/pkg/requestcontext"
)

// Result reports whether a request fits the window.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store counts requests per key inside a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

// Limiter applies one limit/window pair to keys in a Store.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	logger *slog.Logger
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func New(store Store, limit int, window time.Duration, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limit and window must be positive")
	}
	l := &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow records the request and reports whether it fits. Store failures allow
// the request through; the lockout ledger is the authoritative control and a
// broken limiter must not take logins down with it.
func (l *Limiter) Allow(ctx context.Context, key string) Result {
	now := requestcontext.Now(ctx)
	res, err := l.store.Allow(ctx, key, l.limit, l.window, now)
	if err != nil {
		l.logger.ErrorContext(ctx, "ratelimit_store_failed", "error", err)
		return Result{Allowed: true, Remaining: l.limit}
	}
	if !res.Allowed {
		l.logger.WarnContext(ctx, "ratelimit_exceeded", "key", key)
	}
	return res
}
