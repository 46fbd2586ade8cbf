// Package ledger implements the append-only certificate ledger.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vericrop/internal/certificate"
	"vericrop/pkg/domain"
	"vericrop/pkg/platform/sentinel"
)

// InMemory is an append-only ledger in process memory. FailNext makes the
// next n appends fail with ErrUnavailable (tests and local chaos runs).
type InMemory struct {
	mu       sync.Mutex
	entries  []certificate.LedgerEntry
	byCert   map[domain.CertificateID]int
	failNext int
	now      func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{byCert: make(map[domain.CertificateID]int), now: time.Now}
}

// FailNext makes the next n appends fail.
func (l *InMemory) FailNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = n
}

func (l *InMemory) Append(ctx context.Context, entry certificate.LedgerEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext > 0 {
		l.failNext--
		return "", sentinel.ErrUnavailable
	}
	if idx, ok := l.byCert[entry.CertificateID]; ok {
		existing := l.entries[idx]
		if existing.ContentHash != entry.ContentHash {
			return "", fmt.Errorf("certificate %s already anchored with a different hash: %w", entry.CertificateID, sentinel.ErrConflict)
		}
		return existing.Ref, nil
	}
	entry.Ref = ref(int64(len(l.entries) + 1))
	entry.AppendedAt = l.now().UTC()
	entry.Body = append([]byte(nil), entry.Body...)
	l.byCert[entry.CertificateID] = len(l.entries)
	l.entries = append(l.entries, entry)
	return entry.Ref, nil
}

func (l *InMemory) Lookup(_ context.Context, id domain.CertificateID) (certificate.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.byCert[id]
	if !ok {
		return certificate.LedgerEntry{}, sentinel.ErrNotFound
	}
	return l.entries[idx], nil
}

// Len is the number of anchored entries.
func (l *InMemory) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func ref(seq int64) string {
	return fmt.Sprintf("ledger:%d", seq)
}
