package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"vericrop/internal/loan"
	"vericrop/pkg/domain"
	"vericrop/pkg/platform/sentinel"
	txcontext "vericrop/pkg/platform/tx"
)

// PostgresStore persists offers in PostgreSQL.
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

func (s *PostgresStore) Create(ctx context.Context, o *loan.Offer) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO loans (
			id, certificate_id, claim_id, principal, interest_rate, destination, status,
			repayment_status, disbursement_ref, attempts, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		o.ID.String(), o.CertificateID.String(), o.ClaimID.String(), o.Principal, o.InterestRate,
		o.Destination, string(o.Status), string(o.RepaymentStatus), o.DisbursementRef, o.Attempts,
		o.LastError, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

const selectLoan = `
	SELECT id, certificate_id, claim_id, principal, interest_rate, destination, status,
	       repayment_status, disbursement_ref, attempts, last_error, created_at, updated_at
	FROM loans
`

func (s *PostgresStore) FindByID(ctx context.Context, id domain.LoanID) (*loan.Offer, error) {
	return scanOffer(s.execer(ctx).QueryRowContext(ctx, selectLoan+` WHERE id = $1`, id.String()))
}

func (s *PostgresStore) FindByCertificate(ctx context.Context, id domain.CertificateID) (*loan.Offer, error) {
	return scanOffer(s.execer(ctx).QueryRowContext(ctx, selectLoan+` WHERE certificate_id = $1`, id.String()))
}

// Update is a compare-and-set on status.
func (s *PostgresStore) Update(ctx context.Context, o *loan.Offer, expected loan.Status) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE loans
		SET destination = $2, status = $3, disbursement_ref = $4, attempts = $5, last_error = $6, updated_at = $7
		WHERE id = $1 AND status = $8
	`, o.ID.String(), o.Destination, string(o.Status), o.DisbursementRef, o.Attempts, o.LastError, o.UpdatedAt, string(expected))
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update loan rows: %w", err)
	}
	if n == 0 {
		if _, err := s.FindByID(ctx, o.ID); err != nil {
			return err
		}
		return sentinel.ErrConflict
	}
	return nil
}

func scanOffer(row *sql.Row) (*loan.Offer, error) {
	var (
		o                      loan.Offer
		id, certID, claimID    string
		status, repaymentState string
	)
	err := row.Scan(&id, &certID, &claimID, &o.Principal, &o.InterestRate, &o.Destination, &status,
		&repaymentState, &o.DisbursementRef, &o.Attempts, &o.LastError, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan loan: %w", err)
	}
	if o.ID, err = domain.ParseLoanID(id); err != nil {
		return nil, fmt.Errorf("stored loan id: %w", err)
	}
	if o.CertificateID, err = domain.ParseCertificateID(certID); err != nil {
		return nil, fmt.Errorf("stored certificate id: %w", err)
	}
	if o.ClaimID, err = domain.ParseClaimID(claimID); err != nil {
		return nil, fmt.Errorf("stored claim id: %w", err)
	}
	o.Status = loan.Status(status)
	o.RepaymentStatus = loan.RepaymentStatus(repaymentState)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}
