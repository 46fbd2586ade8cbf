package audit

import (
	"context"
	"time"
)

// Action names the engine transitions recorded in the audit trail.
type Action string

const (
	ActionClaimSubmitted        Action = "claim_submitted"
	ActionSignalsCollected      Action = "signals_collected"
	ActionDispositionMade       Action = "disposition_made"
	ActionReviewEnqueued        Action = "review_enqueued"
	ActionReviewResolved        Action = "review_resolved"
	ActionCertificateIssued     Action = "certificate_issued"
	ActionCertificatePending    Action = "certificate_pending"
	ActionCertificateRevoked    Action = "certificate_revoked"
	ActionLoanOffered           Action = "loan_offered"
	ActionDisbursementRequested Action = "disbursement_requested"
	ActionDisbursementFailed    Action = "disbursement_failed"
	ActionRejectionNoticeSent   Action = "rejection_notice_sent"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	ClaimID   string
	Subject   string // certificate or loan id when the action targets one
	Action    string
	Decision  string
	Reason    string
	RequestID string
	// ActorID is the reviewer or operator when a human drove the transition.
	ActorID string
}

// Store persists audit events and lists them per claim in append order.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByClaim(ctx context.Context, claimID string) ([]Event, error)
}

// Sink receives a copy of every event (e.g. a Kafka topic). Sink failures
// never fail the emitting operation.
type Sink interface {
	Append(ctx context.Context, event Event) error
}
