// Package shadow compares an observed shadow bearing with the expected one.
package shadow

import (
	"math"

	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
)

// Tier boundaries in degrees. Variance at a boundary takes the lower tier.
const (
	LowMaxVariance    = 5.0
	MediumMaxVariance = 15.0
	FlagThreshold     = 5.0
)

// Comparison is the outcome of one shadow check.
type Comparison struct {
	Expected  float64
	Observed  float64
	Variance  float64 // |observed - expected|, rounded to 0.01°
	RiskTier  domain.RiskTier
	IsFlagged bool
}

// Compare grades the variance between expected and observed bearings.
// The difference is taken literally: 359° vs 1° is a 358° variance.
func Compare(expected, observed float64) (Comparison, error) {
	if err := validateBearing("expected_azimuth", expected); err != nil {
		return Comparison{}, err
	}
	if err := validateBearing("observed_azimuth", observed); err != nil {
		return Comparison{}, err
	}
	variance := math.Round(math.Abs(observed-expected)*100) / 100
	return Comparison{
		Expected:  expected,
		Observed:  observed,
		Variance:  variance,
		RiskTier:  TierFor(variance),
		IsFlagged: variance > FlagThreshold,
	}, nil
}

// TierFor maps a variance onto a risk tier.
func TierFor(variance float64) domain.RiskTier {
	switch {
	case variance <= LowMaxVariance:
		return domain.RiskLow
	case variance <= MediumMaxVariance:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

func validateBearing(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 360 {
		return dErrors.NewField(dErrors.CodeInvalidInput, field, "must be within [0, 360]")
	}
	return nil
}
