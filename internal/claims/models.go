// Package claims holds the crop-damage claim record, intake validation and
// the claim store contract.
package claims

import (
	"context"
	"time"

	"vericrop/internal/certificate"
	"vericrop/internal/decision"
	"vericrop/internal/loan"
	"vericrop/internal/signals"
	"vericrop/pkg/domain"
)

// DamageType enumerates the perils a claim may cite.
type DamageType string

const (
	DamageDrought        DamageType = "drought"
	DamageFlood          DamageType = "flood"
	DamagePest           DamageType = "pest"
	DamageDisease        DamageType = "disease"
	DamageHail           DamageType = "hail"
	DamageUnseasonalRain DamageType = "unseasonal_rain"
)

var damageTypes = []DamageType{
	DamageDrought, DamageFlood, DamagePest, DamageDisease, DamageHail, DamageUnseasonalRain,
}

func (d DamageType) IsValid() bool {
	for _, t := range damageTypes {
		if d == t {
			return true
		}
	}
	return false
}

// Issuance tracks certificate issuance for an approved claim.
type Issuance string

const (
	IssuanceNone      Issuance = ""
	IssuancePending   Issuance = "CERTIFICATE_PENDING"
	IssuanceCertified Issuance = "CERTIFIED"
)

// Handoff records delivery of a decided claim to its next party: the
// review queue for an escalation, the farmer for a rejection.
type Handoff string

const (
	HandoffNone         Handoff = ""
	HandoffReviewQueued Handoff = "REVIEW_QUEUED"
	HandoffNoticeSent   Handoff = "NOTICE_SENT"
)

// Location is the claimed field position in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Claim is a farmer's damage claim and its processing state. The intake
// fields never change; certificate id is set once.
type Claim struct {
	ID            domain.ClaimID         `json:"claim_id"`
	FarmerID      domain.FarmerID        `json:"farmer_id"`
	DamageType    DamageType             `json:"damage_type"`
	DamageAmount  float64                `json:"damage_amount"`
	Location      Location               `json:"location"`
	EvidenceRef   string                 `json:"evidence_ref"`
	PayoutUPI     string                 `json:"payout_upi,omitempty"`
	SubmittedAt   time.Time              `json:"submitted_at"`
	State         decision.State         `json:"state"`
	Issuance      Issuance               `json:"issuance,omitempty"`
	Handoff       Handoff                `json:"handoff,omitempty"`
	Assessment    *signals.Assessment    `json:"assessment,omitempty"`
	CertificateID *domain.CertificateID  `json:"certificate_id,omitempty"`
	History       []decision.Disposition `json:"history"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Latest returns the most recent disposition, if any.
func (c *Claim) Latest() (decision.Disposition, bool) {
	if len(c.History) == 0 {
		return decision.Disposition{}, false
	}
	return c.History[len(c.History)-1], true
}

// Certified reports whether a certificate has been issued and anchored.
func (c *Claim) Certified() bool { return c.Issuance == IssuanceCertified }

// AwaitingHandoff reports whether an escalated claim has not reached the
// review queue, or a rejected claim has not had its notice sent.
func (c *Claim) AwaitingHandoff() bool {
	switch {
	case c.State == decision.StateEscalated:
		return c.Handoff != HandoffReviewQueued
	case c.State.IsRejected():
		return c.Handoff != HandoffNoticeSent
	}
	return false
}

// Report is the full status of a claim as returned to callers.
type Report struct {
	Claim       *Claim                   `json:"claim"`
	Certificate *certificate.Certificate `json:"certificate,omitempty"`
	Loan        *loan.Offer              `json:"loan,omitempty"`
}

// Store persists claims and their disposition history.
type Store interface {
	Create(ctx context.Context, c *Claim) error
	FindByID(ctx context.Context, id domain.ClaimID) (*Claim, error)
	// Save persists state, issuance, handoff, assessment and certificate id when the
	// stored state still equals expected, then appends dispositions to the
	// history. A state mismatch yields sentinel.ErrConflict.
	Save(ctx context.Context, c *Claim, expected decision.State, appended ...decision.Disposition) error
	// ListByState returns up to limit claims in state, oldest first.
	ListByState(ctx context.Context, state decision.State, limit int) ([]*Claim, error)
}
