package signals

import (
	"context"
	"time"

	"vericrop/internal/signals/ports"
	"vericrop/pkg/domain"
)

// Input is everything a collector may read about the claim under test.
type Input struct {
	ClaimID     domain.ClaimID
	Location    ports.GeoPoint
	DamageType  string
	SubmittedAt time.Time
	EvidenceRef string
	Evidence    ports.EvidenceMetadata
}

// Reading is a collector's successful result. Score is in [0, 1];
// RiskTier is RiskNone for collectors that do not grade fraud risk.
type Reading struct {
	Score    float64
	RiskTier domain.RiskTier
	Detail   string
}

// Collector produces one signal. Implementations must honour ctx cancellation.
type Collector interface {
	Name() Name
	Collect(ctx context.Context, in Input) (Reading, error)
}

// Registration binds a collector to its own timeout.
type Registration struct {
	Collector Collector
	Timeout   time.Duration
}
