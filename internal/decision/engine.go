package decision

import (
	"strings"
	"time"

	"vericrop/internal/signals"
	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
)

// Engine is the claim disposition state machine. It holds configuration only;
// callers serialize decisions per claim.
type Engine struct {
	threshold float64
	sampler   Sampler
}

func NewEngine(threshold float64, sampler Sampler) *Engine {
	return &Engine{threshold: threshold, sampler: sampler}
}

func (e *Engine) Threshold() float64 { return e.threshold }

// Decide moves a PENDING claim to its first disposition.
func (e *Engine) Decide(claimID domain.ClaimID, a signals.Assessment, now time.Time) Disposition {
	state, reason := Evaluate(a, e.threshold, e.sampler.Selected(claimID))
	return Disposition{
		State:      state,
		Reason:     reason,
		Confidence: a.Confidence,
		DecidedAt:  now.UTC(),
	}
}

// Verdict is a human reviewer's decision.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(strings.ToLower(strings.TrimSpace(s)))
	if v != VerdictApprove && v != VerdictReject {
		return "", dErrors.NewField(dErrors.CodeInvalidInput, "decision", "must be approve or reject")
	}
	return v, nil
}

// Review is the human-review collaborator's answer for one claim.
type Review struct {
	Verdict    Verdict
	ReviewerID string
	Reason     string
}

// Resolve applies a review verbatim to an ESCALATED claim.
func (e *Engine) Resolve(current State, confidence float64, r Review, now time.Time) (Disposition, error) {
	if strings.TrimSpace(r.ReviewerID) == "" {
		return Disposition{}, dErrors.NewField(dErrors.CodeInvalidInput, "reviewer_id", "is required")
	}
	next, reason := StateHumanApproved, ReasonReviewerApproved
	switch r.Verdict {
	case VerdictApprove:
	case VerdictReject:
		next, reason = StateHumanRejected, ReasonReviewerRejected
	default:
		return Disposition{}, dErrors.NewField(dErrors.CodeInvalidInput, "decision", "must be approve or reject")
	}
	if err := Transition(current, next); err != nil {
		return Disposition{}, err
	}
	return Disposition{
		State:      next,
		Reason:     reason,
		Note:       r.Reason,
		ReviewerID: r.ReviewerID,
		Confidence: confidence,
		DecidedAt:  now.UTC(),
	}, nil
}
