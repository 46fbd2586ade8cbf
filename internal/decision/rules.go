package decision

import (
	"vericrop/internal/signals"
	"vericrop/pkg/domain"
)

// Evaluate applies the PENDING rule chain. It is pure: no I/O, no clock.
// Rule priority (first match wins):
//  1. Quorum unmet with no positive signal: reject, nothing to review
//  2. Quorum unmet: escalate
//  3. HIGH fraud risk: escalate
//  4. Audit sample: escalate
//  5. Confidence at or above threshold: auto-approve
//  6. Otherwise escalate; low confidence alone never rejects
func Evaluate(a signals.Assessment, threshold float64, audited bool) (State, Reason) {
	if !a.QuorumMet && a.PositiveCount == 0 {
		return StateRejected, ReasonNoEvidence
	}
	if !a.QuorumMet {
		return StateEscalated, ReasonInsufficientEvidence
	}
	if a.RiskTier == domain.RiskHigh {
		return StateEscalated, ReasonFraudRisk
	}
	if audited {
		return StateEscalated, ReasonRandomAudit
	}
	if a.Confidence >= threshold {
		return StateAutoApproved, ReasonHighConfidence
	}
	return StateEscalated, ReasonLowConfidence
}
