// Package ports defines the collaborator contracts the signal collectors read from.
package ports

import (
	"context"
	"time"
)

// GeoPoint is a WGS84 coordinate in decimal degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// EvidenceMetadata is the write-once metadata stored alongside an evidence blob.
type EvidenceMetadata struct {
	Ref         string
	Capture     GeoPoint
	HasCapture  bool
	CapturedAt  time.Time
	DeviceInfo  string // capture client User-Agent
	ContentHash string
	SizeBytes   int64
}

// EvidenceStore reads evidence metadata; the engine never reads raw bytes.
type EvidenceStore interface {
	Metadata(ctx context.Context, ref string) (EvidenceMetadata, error)
}

// VisionResult is the vision collaborator's reading of one evidence item.
type VisionResult struct {
	ObservedShadowAzimuth float64
	DamageConfidence      float64
}

// VisionScorer analyses evidence by reference.
type VisionScorer interface {
	Score(ctx context.Context, evidenceRef string) (VisionResult, error)
}

// WeatherCorrelator scores how well recorded weather explains the claimed damage.
type WeatherCorrelator interface {
	Correlation(ctx context.Context, req WeatherQuery) (float64, error)
}

// WeatherQuery locates the weather lookup.
type WeatherQuery struct {
	Location   GeoPoint
	At         time.Time
	DamageType string
}
