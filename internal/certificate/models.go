// Package certificate issues, verifies and revokes damage certificates.
//
// A certificate is content-addressed: its hash covers every field except
// status and the ledger acknowledgment. The body is written once; revocation
// is recorded alongside it and never rewrites it.
package certificate

import (
	"context"
	"time"

	"vericrop/pkg/domain"
)

// Status is derived from the revocation record.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusRevoked Status = "REVOKED"
)

// Location is the validated claim position.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Certificate is the issued damage certificate.
type Certificate struct {
	ID           domain.CertificateID `json:"certificate_id"`
	ClaimID      domain.ClaimID       `json:"claim_id"`
	FarmerID     domain.FarmerID      `json:"farmer_id"`
	DamageType   string               `json:"damage_type"`
	DamageAmount float64              `json:"damage_amount"`
	Confidence   float64              `json:"confidence"`
	Location     Location             `json:"location"`
	IssuedAt     time.Time            `json:"issued_at"`
	ContentHash  string               `json:"content_hash"`
	LedgerRef    string               `json:"ledger_ref,omitempty"`
	Status       Status               `json:"status"`
	Revocation   *Revocation          `json:"revocation,omitempty"`
}

// Anchored reports whether the ledger acknowledged the certificate.
func (c *Certificate) Anchored() bool { return c.LedgerRef != "" }

func (c *Certificate) IsActive() bool { return c.Status == StatusActive }

// Revocation is the append-only record that retires a certificate.
type Revocation struct {
	CertificateID domain.CertificateID `json:"certificate_id"`
	Reason        string               `json:"reason"`
	ActorID       string               `json:"actor_id,omitempty"`
	RevokedAt     time.Time            `json:"revoked_at"`
}

// IssueRequest carries the approved claim facts a certificate attests.
type IssueRequest struct {
	ClaimID      domain.ClaimID
	FarmerID     domain.FarmerID
	DamageType   string
	DamageAmount float64
	Confidence   float64
	Location     Location
}

// LedgerEntry is what the immutable ledger stores for one certificate.
type LedgerEntry struct {
	CertificateID domain.CertificateID
	ContentHash   string
	Body          []byte
	Ref           string
	AppendedAt    time.Time
}

// Store persists certificate bodies and revocations.
type Store interface {
	// Create fails with sentinel.ErrAlreadyExists when the claim already has a certificate.
	Create(ctx context.Context, cert *Certificate) error
	FindByID(ctx context.Context, id domain.CertificateID) (*Certificate, error)
	FindByClaim(ctx context.Context, claimID domain.ClaimID) (*Certificate, error)
	// SetLedgerRef records the ledger acknowledgment once.
	SetLedgerRef(ctx context.Context, id domain.CertificateID, ref string) error
	// AddRevocation fails with sentinel.ErrAlreadyExists for a revoked certificate.
	AddRevocation(ctx context.Context, rev Revocation) error
}

// Ledger is the append-only ledger collaborator.
type Ledger interface {
	// Append is idempotent per certificate id: re-appending the same hash
	// returns the original reference; a different hash is a conflict.
	Append(ctx context.Context, entry LedgerEntry) (string, error)
	Lookup(ctx context.Context, id domain.CertificateID) (LedgerEntry, error)
}
