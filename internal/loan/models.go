// Package loan computes collateralized loan offers and requests their
// disbursement.
package loan

import (
	"context"
	"fmt"
	"time"

	"vericrop/pkg/domain"
)

// Status tracks disbursement of an offer.
type Status string

const (
	StatusOffered            Status = "OFFERED"
	StatusDisbursing         Status = "DISBURSEMENT_REQUESTED"
	StatusDisbursed          Status = "DISBURSED"
	StatusDisbursementFailed Status = "DISBURSEMENT_FAILED"
)

// RepaymentStatus is reported with the offer; repayment tracking happens outside the engine.
type RepaymentStatus string

const (
	RepaymentNotStarted RepaymentStatus = "NOT_STARTED"
)

// Offer is the loan offer collateralized by one certificate.
type Offer struct {
	ID              domain.LoanID        `json:"loan_id"`
	CertificateID   domain.CertificateID `json:"certificate_id"`
	ClaimID         domain.ClaimID       `json:"claim_id"`
	Principal       float64              `json:"principal"`
	InterestRate    float64              `json:"interest_rate"`
	Destination     string               `json:"destination,omitempty"`
	Status          Status               `json:"status"`
	RepaymentStatus RepaymentStatus      `json:"repayment_status"`
	DisbursementRef string               `json:"disbursement_ref,omitempty"`
	Attempts        int                  `json:"attempts"`
	LastError       string               `json:"last_error,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// DisbursementToken is the idempotency token for the current attempt.
// Each operator retry bumps the attempt and so yields a fresh token bound
// to the same loan.
func (o *Offer) DisbursementToken() string {
	return fmt.Sprintf("%s:%d", o.ID, o.Attempts)
}

// DisbursementRequest is sent to the payment collaborator.
type DisbursementRequest struct {
	LoanID           domain.LoanID
	Amount           float64
	Destination      string
	IdempotencyToken string
}

// Payer is the payment collaborator. It guarantees at-most-once execution
// per idempotency token.
type Payer interface {
	Disburse(ctx context.Context, req DisbursementRequest) (string, error)
}

// Store persists offers. One offer exists per certificate.
type Store interface {
	// Create fails with sentinel.ErrAlreadyExists when the certificate already backs an offer.
	Create(ctx context.Context, offer *Offer) error
	FindByID(ctx context.Context, id domain.LoanID) (*Offer, error)
	FindByCertificate(ctx context.Context, id domain.CertificateID) (*Offer, error)
	// Update replaces mutable disbursement fields. expected guards the
	// transition; a mismatch yields sentinel.ErrConflict.
	Update(ctx context.Context, offer *Offer, expected Status) error
}
