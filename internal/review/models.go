// Package review hands escalated claims to human reviewers and carries their
// decisions and rejection notices back out.
package review

import (
	"context"
	"time"

	"vericrop/internal/decision"
	"vericrop/internal/signals"
	"vericrop/pkg/domain"
)

// SignalSummary is the reviewer-facing view of one validation signal.
type SignalSummary struct {
	Name     signals.Name    `json:"name"`
	Status   signals.Status  `json:"status"`
	Score    float64         `json:"score"`
	RiskTier domain.RiskTier `json:"risk_tier,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

// Request is enqueued once per escalated claim.
type Request struct {
	ClaimID     domain.ClaimID  `json:"claim_id"`
	FarmerID    domain.FarmerID `json:"farmer_id"`
	Reason      decision.Reason `json:"reason"`
	Confidence  float64         `json:"confidence"`
	RiskTier    domain.RiskTier `json:"risk_tier"`
	QuorumMet   bool            `json:"quorum_met"`
	Signals     []SignalSummary `json:"signals"`
	EvidenceRef string          `json:"evidence_ref"`
	RequestedAt time.Time       `json:"requested_at"`
}

// NewRequest summarises an assessment for the review queue.
func NewRequest(claimID domain.ClaimID, farmerID domain.FarmerID, evidenceRef string, a signals.Assessment, d decision.Disposition) Request {
	summary := make([]SignalSummary, 0, len(a.Signals))
	for _, sig := range a.Signals {
		summary = append(summary, SignalSummary{
			Name:     sig.Name,
			Status:   sig.Status,
			Score:    sig.Score,
			RiskTier: sig.RiskTier,
			Detail:   sig.Detail,
		})
	}
	return Request{
		ClaimID:     claimID,
		FarmerID:    farmerID,
		Reason:      d.Reason,
		Confidence:  a.Confidence,
		RiskTier:    a.RiskTier,
		QuorumMet:   a.QuorumMet,
		Signals:     summary,
		EvidenceRef: evidenceRef,
		RequestedAt: d.DecidedAt,
	}
}

// Notice tells the farmer-facing collaborator that a claim was rejected.
type Notice struct {
	ClaimID   domain.ClaimID  `json:"claim_id"`
	FarmerID  domain.FarmerID `json:"farmer_id"`
	State     decision.State  `json:"state"`
	Reason    decision.Reason `json:"reason"`
	Note      string          `json:"note,omitempty"`
	DecidedAt time.Time       `json:"decided_at"`
}

// Decision is a reviewer's answer as it arrives off the decision queue.
type Decision struct {
	ClaimID    string `json:"claim_id"`
	Decision   string `json:"decision"`
	ReviewerID string `json:"reviewer_id"`
	Reason     string `json:"reason"`
}

// Queue accepts escalated claims for human review.
type Queue interface {
	Enqueue(ctx context.Context, req Request) error
}

// Notifier delivers rejection notices.
type Notifier interface {
	NotifyRejection(ctx context.Context, notice Notice) error
}

// Resolver applies a reviewer decision to an escalated claim.
type Resolver interface {
	ResolveReview(ctx context.Context, claimID domain.ClaimID, r decision.Review) error
}
