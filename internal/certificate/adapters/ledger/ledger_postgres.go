package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vericrop/internal/certificate"
	"vericrop/pkg/domain"
	"vericrop/pkg/platform/sentinel"
)

// Postgres is the ledger backed by the append-only ledger_entries table.
// Rows are only ever inserted.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (l *Postgres) Append(ctx context.Context, entry certificate.LedgerEntry) (string, error) {
	var seq int64
	err := l.pool.QueryRow(ctx, `
		INSERT INTO ledger_entries (certificate_id, content_hash, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (certificate_id) DO NOTHING
		RETURNING seq
	`, entry.CertificateID.String(), entry.ContentHash, entry.Body).Scan(&seq)
	if err == nil {
		return ref(seq), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("append ledger entry: %w", err)
	}

	existing, err := l.Lookup(ctx, entry.CertificateID)
	if err != nil {
		return "", err
	}
	if existing.ContentHash != entry.ContentHash {
		return "", fmt.Errorf("certificate %s already anchored with a different hash: %w", entry.CertificateID, sentinel.ErrConflict)
	}
	return existing.Ref, nil
}

func (l *Postgres) Lookup(ctx context.Context, id domain.CertificateID) (certificate.LedgerEntry, error) {
	var (
		entry certificate.LedgerEntry
		seq   int64
	)
	err := l.pool.QueryRow(ctx,
		`SELECT seq, content_hash, body, appended_at FROM ledger_entries WHERE certificate_id = $1`,
		id.String(),
	).Scan(&seq, &entry.ContentHash, &entry.Body, &entry.AppendedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return certificate.LedgerEntry{}, sentinel.ErrNotFound
		}
		return certificate.LedgerEntry{}, fmt.Errorf("lookup ledger entry: %w", err)
	}
	entry.CertificateID = id
	entry.Ref = ref(seq)
	entry.AppendedAt = entry.AppendedAt.UTC()
	return entry, nil
}
