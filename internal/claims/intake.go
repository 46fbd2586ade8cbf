package claims

import (
	"math"
	"regexp"
	"strings"
	"time"

	"vericrop/internal/decision"
	"vericrop/pkg/domain"
	dErrors "vericrop/pkg/domain-errors"
)

const (
	maxEvidenceRefLength = 512
	maxDamageAmount      = 100_000_000
)

var upiPattern = regexp.MustCompile(`^[a-zA-Z0-9.\-_]{2,256}@[a-zA-Z]{2,64}$`)

// Submission is the raw claim intake.
type Submission struct {
	FarmerID     string
	DamageType   string
	Latitude     float64
	Longitude    float64
	EvidenceRef  string
	DamageAmount float64
	PayoutUPI    string
}

// NewClaim validates a submission and builds a PENDING claim. Validation
// fails fast on the first bad field and creates nothing.
func NewClaim(sub Submission, id domain.ClaimID, now time.Time) (*Claim, error) {
	farmerID, err := domain.ParseFarmerID(sub.FarmerID)
	if err != nil {
		return nil, err
	}
	damageType := DamageType(strings.ToLower(strings.TrimSpace(sub.DamageType)))
	if !damageType.IsValid() {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "damage_type",
			"must be one of drought, flood, pest, disease, hail, unseasonal_rain")
	}
	if err := ValidateLocation(sub.Latitude, sub.Longitude); err != nil {
		return nil, err
	}
	evidenceRef := strings.TrimSpace(sub.EvidenceRef)
	if evidenceRef == "" {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "evidence_ref", "is required")
	}
	if len(evidenceRef) > maxEvidenceRefLength {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "evidence_ref", "is too long")
	}
	// Amounts are kept to the paisa; positivity holds for the stored value.
	amount := math.Round(sub.DamageAmount*100) / 100
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "damage_amount", "must be positive")
	}
	if amount > maxDamageAmount {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "damage_amount", "exceeds the maximum claim amount")
	}
	upi := strings.TrimSpace(sub.PayoutUPI)
	if upi != "" && !upiPattern.MatchString(upi) {
		return nil, dErrors.NewField(dErrors.CodeInvalidInput, "payout_upi", "must be a UPI id")
	}

	now = now.UTC()
	return &Claim{
		ID:           id,
		FarmerID:     farmerID,
		DamageType:   damageType,
		DamageAmount: amount,
		Location:     Location{Latitude: sub.Latitude, Longitude: sub.Longitude},
		EvidenceRef:  evidenceRef,
		PayoutUPI:    upi,
		SubmittedAt:  now,
		State:        decision.StatePending,
		History:      []decision.Disposition{},
		UpdatedAt:    now,
	}, nil
}

// ValidateLocation rejects coordinates outside WGS84 bounds.
func ValidateLocation(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return dErrors.NewField(dErrors.CodeInvalidInput, "latitude", "must be within [-90, 90]")
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return dErrors.NewField(dErrors.CodeInvalidInput, "longitude", "must be within [-180, 180]")
	}
	return nil
}
