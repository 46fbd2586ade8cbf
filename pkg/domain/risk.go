package domain

import dErrors "vericrop/pkg/domain-errors"

// RiskTier is the fraud-risk grade reported by forensic checks.
type RiskTier string

const (
	RiskNone   RiskTier = ""
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

func (r RiskTier) rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// Worst returns the more severe of r and other. RiskNone never wins.
func (r RiskTier) Worst(other RiskTier) RiskTier {
	if other.rank() > r.rank() {
		return other
	}
	return r
}

func (r RiskTier) IsValid() bool {
	return r.rank() > 0
}

// ParseRiskTier accepts LOW, MEDIUM or HIGH.
func ParseRiskTier(s string) (RiskTier, error) {
	r := RiskTier(s)
	if !r.IsValid() {
		return RiskNone, dErrors.NewField(dErrors.CodeInvalidInput, "risk_tier", "must be LOW, MEDIUM or HIGH")
	}
	return r, nil
}
