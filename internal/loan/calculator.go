package loan

import (
	"math"
	"time"

	"vericrop/internal/certificate"
	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
)

// DefaultLTV is the fixed loan-to-value ratio.
const DefaultLTV = 0.70

// Calculator derives offers from certificates. Loans are interest free.
type Calculator struct {
	ltv float64
}

func NewCalculator(ltv float64) Calculator {
	if ltv <= 0 || ltv > 1 {
		ltv = DefaultLTV
	}
	return Calculator{ltv: ltv}
}

// Principal rounds amount × LTV to the paisa.
func (c Calculator) Principal(damageAmount float64) float64 {
	return math.Round(damageAmount*c.ltv*100) / 100
}

// Offer builds a new offer for an ACTIVE certificate.
func (c Calculator) Offer(cert *certificate.Certificate, destination string, now time.Time) (*Offer, error) {
	if cert == nil {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "certificate_id", "is required")
	}
	if !cert.IsActive() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "certificate is not active")
	}
	if cert.DamageAmount <= 0 {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "damage_amount", "must be positive")
	}
	now = now.UTC()
	return &Offer{
		ID:              domain.NewLoanID(),
		CertificateID:   cert.ID,
		ClaimID:         cert.ClaimID,
		Principal:       c.Principal(cert.DamageAmount),
		InterestRate:    0,
		Destination:     destination,
		Status:          StatusOffered,
		RepaymentStatus: RepaymentNotStarted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
