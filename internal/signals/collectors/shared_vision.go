package collectors

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"vericrop/internal/signals/ports"
)

// SharedVision collapses concurrent Score calls for the same evidence so the
// solar and damage collectors trigger a single vision request per claim. The
// shared request is cancelled once every caller waiting on it has gone.
type SharedVision struct {
	next  ports.VisionScorer
	group singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the shared request context for one evidence ref.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func NewSharedVision(next ports.VisionScorer) *SharedVision {
	return &SharedVision{next: next, flights: make(map[string]*flight)}
}

// Score returns as soon as ctx is done. The request itself keeps running
// while another caller still waits on it.
func (s *SharedVision) Score(ctx context.Context, evidenceRef string) (ports.VisionResult, error) {
	f := s.join(ctx, evidenceRef)
	defer s.leave(evidenceRef, f)

	ch := s.group.DoChan(evidenceRef, func() (any, error) {
		return s.next.Score(f.ctx, evidenceRef)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return ports.VisionResult{}, res.Err
		}
		return res.Val.(ports.VisionResult), nil
	case <-ctx.Done():
		return ports.VisionResult{}, ctx.Err()
	}
}

func (s *SharedVision) join(ctx context.Context, evidenceRef string) *flight {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flights[evidenceRef]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.flights[evidenceRef] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter. The last one out cancels the request and forgets
// it, so later callers start a fresh one.
func (s *SharedVision) leave(evidenceRef string, f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.flights[evidenceRef] == f {
		delete(s.flights, evidenceRef)
		s.group.Forget(evidenceRef)
	}
}
