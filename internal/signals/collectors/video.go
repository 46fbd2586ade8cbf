package collectors

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"vericrop/internal/signals"
	"vericrop/internal/signals/ports"
	"vericrop/pkg/domain"
)

const (
	// MaxCaptureDistanceKm bounds how far from the claimed plot evidence may be captured.
	MaxCaptureDistanceKm = 5.0
	// MaxCaptureAge bounds how long before submission evidence may be captured.
	MaxCaptureAge = 72 * time.Hour

	earthRadiusKm = 6371.0

	penaltyLocation = 0.5
	penaltyTiming   = 0.2
	penaltyDevice   = 0.15
	penaltyHash     = 0.15
)

// VideoForensics checks the evidence metadata recorded at capture time.
// It never reads the evidence bytes.
type VideoForensics struct {
	evidence ports.EvidenceStore
}

func NewVideoForensics(evidence ports.EvidenceStore) *VideoForensics {
	return &VideoForensics{evidence: evidence}
}

func (c *VideoForensics) Name() signals.Name { return signals.VideoForensics }

// Collect prefers metadata already loaded on the input and reads the store
// only when the pipeline did not resolve it.
func (c *VideoForensics) Collect(ctx context.Context, in signals.Input) (signals.Reading, error) {
	meta := in.Evidence
	if meta.Ref == "" {
		var err error
		meta, err = c.evidence.Metadata(ctx, in.EvidenceRef)
		if err != nil {
			return signals.Reading{}, err
		}
	}
	return Inspect(meta, in.Location, in.SubmittedAt), nil
}

// Inspect scores evidence metadata against the claim. Each failed check
// subtracts its penalty and raises the tier; a location mismatch is HIGH.
func Inspect(meta ports.EvidenceMetadata, claimed ports.GeoPoint, submittedAt time.Time) signals.Reading {
	var (
		penalty  float64
		tier     = domain.RiskLow
		findings []string
	)
	fail := func(p float64, t domain.RiskTier, finding string) {
		penalty += p
		tier = tier.Worst(t)
		findings = append(findings, finding)
	}

	if !meta.HasCapture {
		fail(penaltyLocation, domain.RiskHigh, "capture gps missing")
	} else if d := DistanceKm(meta.Capture, claimed); d > MaxCaptureDistanceKm {
		fail(penaltyLocation, domain.RiskHigh, "capture gps too far from claim")
	}

	switch {
	case meta.CapturedAt.IsZero():
		fail(penaltyTiming, domain.RiskMedium, "capture time missing")
	case meta.CapturedAt.After(submittedAt):
		fail(penaltyTiming, domain.RiskMedium, "captured after submission")
	case submittedAt.Sub(meta.CapturedAt) > MaxCaptureAge:
		fail(penaltyTiming, domain.RiskMedium, "capture older than 72h")
	}

	if !IsMobileDevice(meta.DeviceInfo) {
		fail(penaltyDevice, domain.RiskMedium, "capture device is not mobile")
	}

	if strings.TrimSpace(meta.ContentHash) == "" {
		fail(penaltyHash, domain.RiskMedium, "content hash missing")
	}

	detail := "all checks passed"
	if len(findings) > 0 {
		detail = strings.Join(findings, "; ")
	}
	return signals.Reading{
		Score:    math.Max(0, 1-penalty),
		RiskTier: tier,
		Detail:   detail,
	}
}

// IsMobileDevice reports whether a capture user-agent belongs to a phone or
// tablet client. Bots never qualify.
func IsMobileDevice(ua string) bool {
	if strings.TrimSpace(ua) == "" {
		return false
	}
	parsed := useragent.New(ua)
	return parsed.Mobile() && !parsed.Bot()
}

// DistanceKm is the haversine great-circle distance between two points.
func DistanceKm(a, b ports.GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
