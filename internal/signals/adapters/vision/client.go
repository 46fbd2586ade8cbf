// Package vision adapts the vision/ML collaborator.
package vision

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"vericrop/internal/signals/adapters/httpjson"
	"vericrop/internal/signals/ports"
)

const collaborator = "vision"

type scoreRequest struct {
	EvidenceRef string `json:"evidence_ref"`
}

type scoreResponse struct {
	ObservedShadowAzimuth *float64 `json:"observed_shadow_azimuth"`
	DamageConfidence      *float64 `json:"damage_classification_confidence"`
}

// Client scores evidence through the vision HTTP API.
type Client struct {
	http *httpjson.Client
}

func NewClient(http *httpjson.Client) *Client {
	return &Client{http: http}
}

func (c *Client) Score(ctx context.Context, evidenceRef string) (ports.VisionResult, error) {
	var resp scoreResponse
	if err := c.http.PostJSON(ctx, "/v1/score", scoreRequest{EvidenceRef: evidenceRef}, &resp); err != nil {
		return ports.VisionResult{}, err
	}
	return parseScoreResponse(resp)
}

func parseScoreResponse(resp scoreResponse) (ports.VisionResult, error) {
	if resp.ObservedShadowAzimuth == nil || resp.DamageConfidence == nil {
		return ports.VisionResult{}, ports.NewCollaboratorError(ports.ErrorBadData, collaborator, "response missing fields", nil)
	}
	az, conf := *resp.ObservedShadowAzimuth, *resp.DamageConfidence
	if math.IsNaN(az) || az < 0 || az > 360 {
		return ports.VisionResult{}, ports.NewCollaboratorError(ports.ErrorBadData, collaborator,
			fmt.Sprintf("azimuth %v outside [0, 360]", az), nil)
	}
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return ports.VisionResult{}, ports.NewCollaboratorError(ports.ErrorBadData, collaborator,
			fmt.Sprintf("damage confidence %v outside [0, 1]", conf), nil)
	}
	return ports.VisionResult{ObservedShadowAzimuth: az, DamageConfidence: conf}, nil
}

// InMemory serves fixed results per evidence reference. Unknown references
// get Default.
type InMemory struct {
	mu      sync.RWMutex
	results map[string]ports.VisionResult
	Default ports.VisionResult
}

func NewInMemory(def ports.VisionResult) *InMemory {
	return &InMemory{results: make(map[string]ports.VisionResult), Default: def}
}

func (m *InMemory) Set(evidenceRef string, r ports.VisionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[evidenceRef] = r
}

func (m *InMemory) Score(ctx context.Context, evidenceRef string) (ports.VisionResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.VisionResult{}, err
	}
	if strings.TrimSpace(evidenceRef) == "" {
		return ports.VisionResult{}, ports.NewCollaboratorError(ports.ErrorBadData, collaborator, "empty evidence reference", nil)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.results[evidenceRef]; ok {
		return r, nil
	}
	return m.Default, nil
}
