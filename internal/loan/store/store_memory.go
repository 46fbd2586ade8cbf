// Package store persists loan offers.
package store

import (
	"context"
	"sync"

	"vericrop/internal/loan"
	"vericrop/pkg/domain"
	"vericrop/pkg/platform/sentinel"
)

// InMemoryStore keeps offers in process memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[domain.LoanID]loan.Offer
	byCert map[domain.CertificateID]domain.LoanID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[domain.LoanID]loan.Offer),
		byCert: make(map[domain.CertificateID]domain.LoanID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, offer *loan.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCert[offer.CertificateID]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.byID[offer.ID] = *offer
	s.byCert[offer.CertificateID] = offer.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.LoanID) (*loan.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offer, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &offer, nil
}

func (s *InMemoryStore) FindByCertificate(_ context.Context, id domain.CertificateID) (*loan.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loanID, ok := s.byCert[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	offer := s.byID[loanID]
	return &offer, nil
}

func (s *InMemoryStore) Update(_ context.Context, offer *loan.Offer, expected loan.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[offer.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status != expected {
		return sentinel.ErrConflict
	}
	current.Destination = offer.Destination
	current.Status = offer.Status
	current.DisbursementRef = offer.DisbursementRef
	current.Attempts = offer.Attempts
	current.LastError = offer.LastError
	current.UpdatedAt = offer.UpdatedAt
	s.byID[offer.ID] = current
	return nil
}
