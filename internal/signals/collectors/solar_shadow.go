// Package collectors implements the four validation signal sources.
package collectors

import (
	"context"
	"fmt"
	"math"

	"vericrop/internal/forensics/shadow"
	"vericrop/internal/forensics/solar"
	"vericrop/internal/signals"
	"vericrop/internal/signals/ports"
)

// maxScoredVariance is the variance at which the solar score reaches zero.
const maxScoredVariance = 45.0

// SolarShadow compares the expected shadow bearing with the one the vision
// collaborator observed in the evidence.
type SolarShadow struct {
	vision ports.VisionScorer
}

func NewSolarShadow(vision ports.VisionScorer) *SolarShadow {
	return &SolarShadow{vision: vision}
}

func (c *SolarShadow) Name() signals.Name { return signals.SolarShadow }

// Collect uses the capture time when the evidence carries one, otherwise the
// submission time.
func (c *SolarShadow) Collect(ctx context.Context, in signals.Input) (signals.Reading, error) {
	at := in.SubmittedAt
	if !in.Evidence.CapturedAt.IsZero() {
		at = in.Evidence.CapturedAt
	}
	expected, err := solar.Azimuth(in.Location.Latitude, in.Location.Longitude, at)
	if err != nil {
		return signals.Reading{}, err
	}

	vr, err := c.vision.Score(ctx, in.EvidenceRef)
	if err != nil {
		return signals.Reading{}, err
	}

	cmp, err := shadow.Compare(expected, vr.ObservedShadowAzimuth)
	if err != nil {
		return signals.Reading{}, ports.NewCollaboratorError(ports.ErrorBadData, "vision", "observed azimuth out of range", err)
	}

	return signals.Reading{
		Score:    1 - math.Min(cmp.Variance, maxScoredVariance)/maxScoredVariance,
		RiskTier: cmp.RiskTier,
		Detail: fmt.Sprintf("expected %.2f observed %.2f variance %.2f flagged=%t",
			cmp.Expected, cmp.Observed, cmp.Variance, cmp.IsFlagged),
	}, nil
}
