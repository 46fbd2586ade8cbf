// Package store persists certificates.
package store

import (
	"context"
	"sync"

	"vericrop/internal/certificate"
	"vericrop/pkg/domain"
	"vericrop/pkg/platform/sentinel"
)

// InMemoryStore keeps certificates in process memory.
type InMemoryStore struct {
	mu          sync.RWMutex
	byID        map[domain.CertificateID]certificate.Certificate
	byClaim     map[domain.ClaimID]domain.CertificateID
	revocations map[domain.CertificateID]certificate.Revocation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:        make(map[domain.CertificateID]certificate.Certificate),
		byClaim:     make(map[domain.ClaimID]domain.CertificateID),
		revocations: make(map[domain.CertificateID]certificate.Revocation),
	}
}

func (s *InMemoryStore) Create(_ context.Context, cert *certificate.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byClaim[cert.ClaimID]; ok {
		return sentinel.ErrAlreadyExists
	}
	if _, ok := s.byID[cert.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	stored := *cert
	stored.Status = ""
	stored.Revocation = nil
	s.byID[cert.ID] = stored
	s.byClaim[cert.ClaimID] = cert.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.CertificateID) (*certificate.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

func (s *InMemoryStore) FindByClaim(_ context.Context, claimID domain.ClaimID) (*certificate.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byClaim[claimID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.load(id)
}

func (s *InMemoryStore) SetLedgerRef(_ context.Context, id domain.CertificateID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if cert.LedgerRef != "" {
		if cert.LedgerRef == ref {
			return nil
		}
		return sentinel.ErrConflict
	}
	cert.LedgerRef = ref
	s.byID[id] = cert
	return nil
}

func (s *InMemoryStore) AddRevocation(_ context.Context, rev certificate.Revocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rev.CertificateID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := s.revocations[rev.CertificateID]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.revocations[rev.CertificateID] = rev
	return nil
}

// load must be called with the lock held.
func (s *InMemoryStore) load(id domain.CertificateID) (*certificate.Certificate, error) {
	cert, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cert.Status = certificate.StatusActive
	if rev, ok := s.revocations[id]; ok {
		cert.Status = certificate.StatusRevoked
		cert.Revocation = &rev
	}
	return &cert, nil
}
