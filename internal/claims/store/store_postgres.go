package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"vericrop/internal/claims"
	"vericrop/internal/decision"
	"vericrop/internal/signals"
	"vericrop/pkg/domain"
	"vericrop/pkg/platform/sentinel"
	txcontext "vericrop/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists claims in PostgreSQL with the location as a PostGIS point.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, c *claims.Claim) error {
	point, err := encodePoint(c.Location)
	if err != nil {
		return err
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO claims (
			id, farmer_id, damage_type, damage_amount, location, evidence_ref, payout_upi,
			submitted_at, state, issuance, handoff, updated_at
		) VALUES ($1, $2, $3, $4, ST_GeomFromEWKB($5)::geography, $6, $7, $8, $9, $10, $11, $12)
	`,
		c.ID.String(), c.FarmerID.String(), string(c.DamageType), c.DamageAmount, point,
		c.EvidenceRef, c.PayoutUPI, c.SubmittedAt, string(c.State), string(c.Issuance), string(c.Handoff), c.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

const selectClaim = `
	SELECT id, farmer_id, damage_type, damage_amount, ST_AsEWKB(location::geometry), evidence_ref,
	       payout_upi, submitted_at, state, issuance, handoff, assessment, certificate_id, updated_at
	FROM claims
`

func (s *PostgresStore) FindByID(ctx context.Context, id domain.ClaimID) (*claims.Claim, error) {
	c, err := scanClaim(s.execer(ctx).QueryRowContext(ctx, selectClaim+` WHERE id = $1`, id.String()))
	if err != nil {
		return nil, err
	}
	if c.History, err = s.history(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// Save runs the guarded update and the history append in one transaction.
func (s *PostgresStore) Save(ctx context.Context, c *claims.Claim, expected decision.State, appended ...decision.Disposition) error {
	var assessment sql.NullString
	if c.Assessment != nil {
		b, err := json.Marshal(c.Assessment)
		if err != nil {
			return fmt.Errorf("marshal assessment: %w", err)
		}
		assessment = sql.NullString{String: string(b), Valid: true}
	}
	var certID sql.NullString
	if c.CertificateID != nil {
		certID = sql.NullString{String: c.CertificateID.String(), Valid: true}
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		res, err := s.execer(ctx).ExecContext(ctx, `
			UPDATE claims
			SET state = $2, issuance = $3, handoff = $8, assessment = $4,
			    certificate_id = COALESCE(certificate_id, $5::uuid), updated_at = $6
			WHERE id = $1 AND state = $7 AND (certificate_id IS NULL OR certificate_id = $5::uuid)
		`, c.ID.String(), string(c.State), string(c.Issuance), assessment, certID, c.UpdatedAt, string(expected), string(c.Handoff))
		if err != nil {
			return fmt.Errorf("update claim: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update claim rows: %w", err)
		}
		if n == 0 {
			var exists bool
			if err := s.execer(ctx).QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM claims WHERE id = $1)`, c.ID.String()).Scan(&exists); err != nil {
				return fmt.Errorf("check claim: %w", err)
			}
			if !exists {
				return sentinel.ErrNotFound
			}
			return sentinel.ErrConflict
		}
		for _, d := range appended {
			if _, err := s.execer(ctx).ExecContext(ctx, `
				INSERT INTO claim_dispositions (claim_id, state, reason, note, reviewer_id, confidence, decided_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, c.ID.String(), string(d.State), string(d.Reason), d.Note, d.ReviewerID, d.Confidence, d.DecidedAt); err != nil {
				return fmt.Errorf("insert disposition: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListByState(ctx context.Context, state decision.State, limit int) ([]*claims.Claim, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.execer(ctx).QueryContext(ctx, selectClaim+` WHERE state = $1 ORDER BY submitted_at LIMIT $2`, string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var out []*claims.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	for _, c := range out {
		if c.History, err = s.history(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) history(ctx context.Context, id domain.ClaimID) ([]decision.Disposition, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT state, reason, note, reviewer_id, confidence, decided_at
		FROM claim_dispositions
		WHERE claim_id = $1
		ORDER BY seq
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query dispositions: %w", err)
	}
	defer rows.Close()

	history := []decision.Disposition{}
	for rows.Next() {
		var (
			d             decision.Disposition
			state, reason string
		)
		if err := rows.Scan(&state, &reason, &d.Note, &d.ReviewerID, &d.Confidence, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan disposition: %w", err)
		}
		d.State = decision.State(state)
		d.Reason = decision.Reason(reason)
		history = append(history, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispositions: %w", err)
	}
	return history, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClaim(row scanner) (*claims.Claim, error) {
	var (
		c                        claims.Claim
		id, farmerID, damageType string
		state, issuance, handoff string
		point, assessment        []byte
		certID                   sql.NullString
	)
	err := row.Scan(&id, &farmerID, &damageType, &c.DamageAmount, &point, &c.EvidenceRef,
		&c.PayoutUPI, &c.SubmittedAt, &state, &issuance, &handoff, &assessment, &certID, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan claim: %w", err)
	}
	if c.ID, err = domain.ParseClaimID(id); err != nil {
		return nil, fmt.Errorf("stored claim id: %w", err)
	}
	c.FarmerID = domain.FarmerID(farmerID)
	c.DamageType = claims.DamageType(damageType)
	c.State = decision.State(state)
	c.Issuance = claims.Issuance(issuance)
	c.Handoff = claims.Handoff(handoff)
	if c.Location, err = decodePoint(point); err != nil {
		return nil, err
	}
	if len(assessment) > 0 {
		var a signals.Assessment
		if err := json.Unmarshal(assessment, &a); err != nil {
			return nil, fmt.Errorf("stored assessment: %w", err)
		}
		c.Assessment = &a
	}
	if certID.Valid {
		cid, err := domain.ParseCertificateID(certID.String)
		if err != nil {
			return nil, fmt.Errorf("stored certificate id: %w", err)
		}
		c.CertificateID = &cid
	}
	return &c, nil
}
