// Package decision converts a composite assessment into a claim disposition.
package decision

import (
	"time"

	dErrors "vericrop/pkg/domain-errors"
)

// State is a claim's disposition state.
type State string

const (
	StatePending       State = "PENDING"
	StateAutoApproved  State = "AUTO_APPROVED"
	StateEscalated     State = "ESCALATED"
	StateRejected      State = "REJECTED"
	StateHumanApproved State = "HUMAN_APPROVED"
	StateHumanRejected State = "HUMAN_REJECTED"
)

// transitions lists every legal move. Terminal states have no entry.
var transitions = map[State][]State{
	StatePending:   {StateAutoApproved, StateEscalated, StateRejected},
	StateEscalated: {StateHumanApproved, StateHumanRejected},
}

func (s State) IsValid() bool {
	switch s {
	case StatePending, StateAutoApproved, StateEscalated, StateRejected, StateHumanApproved, StateHumanRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	_, ok := transitions[s]
	return s.IsValid() && !ok
}

// IsApproved reports whether the state leads to certificate issuance.
func (s State) IsApproved() bool {
	return s == StateAutoApproved || s == StateHumanApproved
}

// IsRejected reports whether the state leads to a rejection notice.
func (s State) IsRejected() bool {
	return s == StateRejected || s == StateHumanRejected
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns an invalid_state error for illegal moves.
func Transition(from, to State) error {
	if !CanTransition(from, to) {
		return dErrors.New(dErrors.CodeInvalidState, "cannot move claim from "+string(from)+" to "+string(to))
	}
	return nil
}

// Reason explains a disposition.
type Reason string

const (
	ReasonHighConfidence       Reason = "high_confidence"
	ReasonInsufficientEvidence Reason = "insufficient_evidence"
	ReasonFraudRisk            Reason = "fraud_risk"
	ReasonRandomAudit          Reason = "random_audit"
	ReasonLowConfidence        Reason = "low_confidence"
	ReasonNoEvidence           Reason = "no_evidence"
	ReasonReviewerApproved     Reason = "reviewer_approved"
	ReasonReviewerRejected     Reason = "reviewer_rejected"
)

// Disposition is one recorded state change.
type Disposition struct {
	State      State     `json:"state"`
	Reason     Reason    `json:"reason"`
	Note       string    `json:"note,omitempty"`
	ReviewerID string    `json:"reviewer_id,omitempty"`
	Confidence float64   `json:"confidence"`
	DecidedAt  time.Time `json:"decided_at"`
}
