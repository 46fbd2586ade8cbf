package decision

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"vericrop/pkg/domain"
)

// Sampler selects claims for random audit. Selection is a pure function of
// the seed and the claim id, so a claim is either always or never sampled
// under one configuration.
type Sampler struct {
	seed string
	rate float64
}

// NewSampler clamps rate to [0, 1].
func NewSampler(seed string, rate float64) Sampler {
	if math.IsNaN(rate) || rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return Sampler{seed: seed, rate: rate}
}

func (s Sampler) Rate() float64 { return s.rate }

// Selected maps sha256(seed || 0x00 || claim id) onto [0, 1) and compares it
// with the rate.
func (s Sampler) Selected(claimID domain.ClaimID) bool {
	if s.rate == 0 {
		return false
	}
	if s.rate == 1 {
		return true
	}
	return s.position(claimID) < s.rate
}

func (s Sampler) position(claimID domain.ClaimID) float64 {
	h := sha256.New()
	h.Write([]byte(s.seed))
	h.Write([]byte{0})
	h.Write([]byte(claimID.String()))
	sum := h.Sum(nil)
	return float64(binary.BigEndian.Uint64(sum[:8])) / math.Exp2(64)
}
