package evidence

import (
	"context"
	"fmt"
	"sync"

	"vericrop/internal/signals/ports"
)

// InMemoryStore holds evidence metadata in process. Entries are write-once.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]ports.EvidenceMetadata
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]ports.EvidenceMetadata)}
}

// Put records metadata for meta.Ref. A second Put for the same ref fails.
func (s *InMemoryStore) Put(meta ports.EvidenceMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[meta.Ref]; ok {
		return fmt.Errorf("evidence %s already stored", meta.Ref)
	}
	s.items[meta.Ref] = meta
	return nil
}

func (s *InMemoryStore) Metadata(ctx context.Context, ref string) (ports.EvidenceMetadata, error) {
	if err := ctx.Err(); err != nil {
		return ports.EvidenceMetadata{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.items[ref]
	if !ok {
		return ports.EvidenceMetadata{}, ports.NewCollaboratorError(ports.ErrorNotFound, collaborator,
			fmt.Sprintf("evidence %s not found", ref), nil)
	}
	return meta, nil
}
