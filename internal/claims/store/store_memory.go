// Package store persists claims and their disposition history.
package store

import (
	"context"
	"sort"
	"sync"

	"vericrop/internal/claims"
	"vericrop/internal/decision"
	"vericrop/internal/signals"
	"vericrop/pkg/domain"
	"vericrop/pkg/platform/sentinel"
)

// InMemoryStore keeps claims in process memory. Callers always get copies.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[domain.ClaimID]*claims.Claim
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[domain.ClaimID]*claims.Claim)}
}

func (s *InMemoryStore) Create(_ context.Context, c *claims.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[c.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.records[c.ID] = clone(c)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.ClaimID) (*claims.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemoryStore) Save(_ context.Context, c *claims.Claim, expected decision.State, appended ...decision.Disposition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[c.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.State != expected {
		return sentinel.ErrConflict
	}
	if stored.CertificateID != nil && (c.CertificateID == nil || *c.CertificateID != *stored.CertificateID) {
		return sentinel.ErrConflict
	}
	next := clone(stored)
	next.State = c.State
	next.Issuance = c.Issuance
	next.Handoff = c.Handoff
	next.Assessment = cloneAssessment(c)
	if c.CertificateID != nil {
		id := *c.CertificateID
		next.CertificateID = &id
	}
	next.History = append(next.History, appended...)
	next.UpdatedAt = c.UpdatedAt
	s.records[c.ID] = next
	return nil
}

func (s *InMemoryStore) ListByState(_ context.Context, state decision.State, limit int) ([]*claims.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*claims.Claim
	for _, c := range s.records {
		if c.State == state {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(c *claims.Claim) *claims.Claim {
	cp := *c
	cp.History = append([]decision.Disposition{}, c.History...)
	cp.Assessment = cloneAssessment(c)
	if c.CertificateID != nil {
		id := *c.CertificateID
		cp.CertificateID = &id
	}
	return &cp
}

func cloneAssessment(c *claims.Claim) *signals.Assessment {
	if c.Assessment == nil {
		return nil
	}
	a := *c.Assessment
	a.Signals = append([]signals.Signal(nil), c.Assessment.Signals...)
	return &a
}
