// Package lock provides the per-claim single-writer lock.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrHeld is returned when another writer holds the lock.
var ErrHeld = errors.New("lock held by another writer")

// Locker acquires exclusive, expiring locks by key. The returned release is
// safe to call more than once and only releases the caller's own lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
