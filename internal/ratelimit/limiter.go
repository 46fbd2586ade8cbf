// Package ratelimit throttles claim intake per client over a fixed window.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	"vericrop/internal/ratelimit/models"
	"vericrop/pkg/requestcontext"
)

// Store counts hits for a key within a window. The first hit of a window
// starts its expiry; ttl is the time left until the window resets.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Limiter allows at most limit hits per key per window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

func New(store Store, limit int, window time.Duration) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	if limit <= 0 {
		return nil, errors.New("ratelimit: limit must be positive")
	}
	if window <= 0 {
		return nil, errors.New("ratelimit: window must be positive")
	}
	return &Limiter{store: store, limit: limit, window: window}, nil
}

// Allow records one hit for key and reports whether it fits the window.
func (l *Limiter) Allow(ctx context.Context, key string) (*models.Result, error) {
	count, ttl, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = l.window
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	res := &models.Result{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   requestcontext.Now(ctx).Add(ttl),
	}
	if !res.Allowed {
		res.RetryAfter = int(math.Ceil(ttl.Seconds()))
	}
	return res, nil
}
