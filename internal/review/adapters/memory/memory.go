// Package memory is the in-process review queue and notice sink used when no
// broker is configured.
package memory

import (
	"context"
	"errors"
	"sync"

	"vericrop/internal/review"
	"vericrop/pkg/domain"
)

// Queue records review requests and rejection notices.
type Queue struct {
	mu       sync.RWMutex
	requests []review.Request
	notices  []review.Notice
	failNext int
}

func NewQueue() *Queue {
	return &Queue{}
}

// FailNext makes the next n deliveries fail, requests and notices alike.
func (q *Queue) FailNext(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failNext = n
}

func (q *Queue) Enqueue(ctx context.Context, req review.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.failing(); err != nil {
		return err
	}
	q.requests = append(q.requests, req)
	return nil
}

func (q *Queue) NotifyRejection(ctx context.Context, notice review.Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.failing(); err != nil {
		return err
	}
	q.notices = append(q.notices, notice)
	return nil
}

func (q *Queue) failing() error {
	if q.failNext > 0 {
		q.failNext--
		return errors.New("review broker unavailable")
	}
	return nil
}

// Requests returns a snapshot of everything enqueued.
func (q *Queue) Requests() []review.Request {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]review.Request, len(q.requests))
	copy(out, q.requests)
	return out
}

// Notices returns a snapshot of every rejection notice.
func (q *Queue) Notices() []review.Notice {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]review.Notice, len(q.notices))
	copy(out, q.notices)
	return out
}

// Pending reports whether a review request exists for the claim.
func (q *Queue) Pending(claimID domain.ClaimID) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, r := range q.requests {
		if r.ClaimID == claimID {
			return true
		}
	}
	return false
}
