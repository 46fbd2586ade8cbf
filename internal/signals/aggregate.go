package signals

import (
	"math"
	"sort"

	"vericrop/pkg/domain"
)

// Assessment is the composite view of a claim's signals.
type Assessment struct {
	Confidence    float64         `json:"confidence"`
	RawConfidence float64         `json:"raw_confidence"`
	RiskTier      domain.RiskTier `json:"risk_tier"`
	QuorumMet     bool            `json:"quorum_met"`
	OKCount       int             `json:"ok_count"`
	PositiveCount int             `json:"positive_count"`
	Signals       []Signal        `json:"signals"`
}

// Aggregator folds signals into an Assessment. It holds no mutable state;
// the same signals and weights always yield the same assessment.
type Aggregator struct {
	weights   Weights
	minQuorum int
	threshold float64
}

// NewAggregator builds an aggregator. threshold is the auto-approve
// confidence; under-quorum confidence is capped strictly below it.
func NewAggregator(weights Weights, minQuorum int, threshold float64) *Aggregator {
	if minQuorum < 1 {
		minQuorum = 1
	}
	return &Aggregator{weights: weights, minQuorum: minQuorum, threshold: threshold}
}

// QuorumCap is the highest confidence an under-quorum assessment can carry.
func (a *Aggregator) QuorumCap() float64 {
	return roundConfidence(a.threshold - confidenceStep)
}

const confidenceStep = 0.0001

// Aggregate combines signals. Signals that are not ok contribute nothing to
// the weighted average but stay in the result for audit.
func (a *Aggregator) Aggregate(sigs []Signal) Assessment {
	ordered := make([]Signal, len(sigs))
	copy(ordered, sigs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return order(ordered[i].Name) < order(ordered[j].Name)
	})

	var (
		weighted, totalWeight float64
		okCount, positive     int
		tier                  domain.RiskTier
	)
	for i := range ordered {
		sig := &ordered[i]
		if w, ok := a.weights[sig.Name]; ok {
			sig.Weight = w
		}
		if !sig.OK() {
			continue
		}
		okCount++
		if sig.Score > 0 {
			positive++
		}
		weighted += sig.Weight * sig.Score
		totalWeight += sig.Weight
		tier = tier.Worst(sig.RiskTier)
	}

	raw := 0.0
	if totalWeight > 0 {
		raw = roundConfidence(weighted / totalWeight)
	}
	if tier == domain.RiskNone {
		tier = domain.RiskLow
	}

	out := Assessment{
		Confidence:    raw,
		RawConfidence: raw,
		RiskTier:      tier,
		QuorumMet:     okCount >= a.minQuorum,
		OKCount:       okCount,
		PositiveCount: positive,
		Signals:       ordered,
	}
	if !out.QuorumMet && out.Confidence > a.QuorumCap() {
		out.Confidence = a.QuorumCap()
	}
	return out
}

func order(n Name) int {
	for i, name := range AllNames {
		if name == n {
			return i
		}
	}
	return len(AllNames)
}

func roundConfidence(v float64) float64 {
	return math.Round(v*10000) / 10000
}
