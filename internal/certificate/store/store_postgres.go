package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"vericrop/internal/certificate"
	"vericrop/pkg/domain"
	"vericrop/pkg/platform/sentinel"
	txcontext "vericrop/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists certificates in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, cert *certificate.Certificate) error {
	query := `
		INSERT INTO certificates (
			id, claim_id, farmer_id, damage_type, damage_amount, confidence,
			latitude, longitude, issued_at, content_hash, ledger_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		cert.ID.String(),
		cert.ClaimID.String(),
		cert.FarmerID.String(),
		cert.DamageType,
		cert.DamageAmount,
		cert.Confidence,
		cert.Location.Latitude,
		cert.Location.Longitude,
		cert.IssuedAt,
		cert.ContentHash,
		cert.LedgerRef,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

const selectCertificate = `
	SELECT c.id, c.claim_id, c.farmer_id, c.damage_type, c.damage_amount, c.confidence,
	       c.latitude, c.longitude, c.issued_at, c.content_hash, c.ledger_ref,
	       r.reason, r.actor_id, r.revoked_at
	FROM certificates c
	LEFT JOIN certificate_revocations r ON r.certificate_id = c.id
`

func (s *PostgresStore) FindByID(ctx context.Context, id domain.CertificateID) (*certificate.Certificate, error) {
	return s.scan(s.execer(ctx).QueryRowContext(ctx, selectCertificate+` WHERE c.id = $1`, id.String()))
}

func (s *PostgresStore) FindByClaim(ctx context.Context, claimID domain.ClaimID) (*certificate.Certificate, error) {
	return s.scan(s.execer(ctx).QueryRowContext(ctx, selectCertificate+` WHERE c.claim_id = $1`, claimID.String()))
}

func (s *PostgresStore) scan(row *sql.Row) (*certificate.Certificate, error) {
	var (
		cert                certificate.Certificate
		id, claimID, farmer string
		revReason, revActor sql.NullString
		revokedAt           sql.NullTime
	)
	err := row.Scan(
		&id, &claimID, &farmer, &cert.DamageType, &cert.DamageAmount, &cert.Confidence,
		&cert.Location.Latitude, &cert.Location.Longitude, &cert.IssuedAt, &cert.ContentHash, &cert.LedgerRef,
		&revReason, &revActor, &revokedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan certificate: %w", err)
	}
	if cert.ID, err = domain.ParseCertificateID(id); err != nil {
		return nil, fmt.Errorf("stored certificate id: %w", err)
	}
	if cert.ClaimID, err = domain.ParseClaimID(claimID); err != nil {
		return nil, fmt.Errorf("stored claim id: %w", err)
	}
	cert.FarmerID = domain.FarmerID(farmer)
	cert.IssuedAt = cert.IssuedAt.UTC()
	cert.Status = certificate.StatusActive
	if revokedAt.Valid {
		cert.Status = certificate.StatusRevoked
		cert.Revocation = &certificate.Revocation{
			CertificateID: cert.ID,
			Reason:        revReason.String,
			ActorID:       revActor.String,
			RevokedAt:     revokedAt.Time.UTC(),
		}
	}
	return &cert, nil
}

// SetLedgerRef only fills an empty ref; re-recording the same ref is a no-op.
func (s *PostgresStore) SetLedgerRef(ctx context.Context, id domain.CertificateID, ref string) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE certificates SET ledger_ref = $2 WHERE id = $1 AND (ledger_ref = '' OR ledger_ref = $2)`,
		id.String(), ref)
	if err != nil {
		return fmt.Errorf("set ledger ref: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set ledger ref rows: %w", err)
	}
	if n == 0 {
		if _, err := s.FindByID(ctx, id); err != nil {
			return err
		}
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) AddRevocation(ctx context.Context, rev certificate.Revocation) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`INSERT INTO certificate_revocations (certificate_id, reason, actor_id, revoked_at) VALUES ($1, $2, $3, $4)`,
		rev.CertificateID.String(), rev.Reason, rev.ActorID, rev.RevokedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case uniqueViolation:
				return sentinel.ErrAlreadyExists
			case "23503": // foreign_key_violation
				return sentinel.ErrNotFound
			}
		}
		return fmt.Errorf("insert revocation: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
