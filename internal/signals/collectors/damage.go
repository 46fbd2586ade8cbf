package collectors

import (
	"context"
	"fmt"

	"vericrop/internal/signals"
	"vericrop/internal/signals/ports"
)

// DamageClassification reports the vision collaborator's damage confidence.
type DamageClassification struct {
	vision ports.VisionScorer
}

func NewDamageClassification(vision ports.VisionScorer) *DamageClassification {
	return &DamageClassification{vision: vision}
}

func (c *DamageClassification) Name() signals.Name { return signals.AIDamageClassification }

func (c *DamageClassification) Collect(ctx context.Context, in signals.Input) (signals.Reading, error) {
	vr, err := c.vision.Score(ctx, in.EvidenceRef)
	if err != nil {
		return signals.Reading{}, err
	}
	if vr.DamageConfidence < 0 || vr.DamageConfidence > 1 {
		return signals.Reading{}, ports.NewCollaboratorError(ports.ErrorBadData, "vision",
			fmt.Sprintf("damage confidence %v outside [0, 1]", vr.DamageConfidence), nil)
	}
	return signals.Reading{
		Score:  vr.DamageConfidence,
		Detail: fmt.Sprintf("damage confidence %.4f", vr.DamageConfidence),
	}, nil
}
