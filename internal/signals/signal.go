// Package signals collects validation signals in parallel and folds them
// into one composite assessment.
package signals

import (
	"time"

	"vericrop/pkg/domain"
)

// Name identifies a signal source.
type Name string

const (
	SolarShadow            Name = "solar_shadow"
	WeatherCorrelation     Name = "weather_correlation"
	AIDamageClassification Name = "ai_damage_classification"
	VideoForensics         Name = "video_forensics"
)

// AllNames lists every signal in aggregation order.
var AllNames = []Name{SolarShadow, WeatherCorrelation, AIDamageClassification, VideoForensics}

func (n Name) IsValid() bool {
	switch n {
	case SolarShadow, WeatherCorrelation, AIDamageClassification, VideoForensics:
		return true
	}
	return false
}

// Status reports how a collector finished.
type Status string

const (
	StatusOK       Status = "ok"
	StatusTimedOut Status = "timed_out"
	StatusError    Status = "error"
)

// Signal is the single result recorded for one collector on one claim.
type Signal struct {
	Name     Name            `json:"name"`
	Status   Status          `json:"status"`
	Score    float64         `json:"score"`
	RiskTier domain.RiskTier `json:"risk_tier,omitempty"`
	Weight   float64         `json:"weight"`
	Detail   string          `json:"detail,omitempty"`
	Duration time.Duration   `json:"duration_ns"`
}

func (s Signal) OK() bool { return s.Status == StatusOK }

// Weights assigns a confidence weight per signal name.
type Weights map[Name]float64

// DefaultWeights favours the solar check, the only signal with an analytic
// ground truth.
func DefaultWeights() Weights {
	return Weights{
		SolarShadow:            0.40,
		WeatherCorrelation:     0.20,
		AIDamageClassification: 0.20,
		VideoForensics:         0.20,
	}
}
