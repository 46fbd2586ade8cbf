// Package weather adapts the weather correlation collaborator.
package weather

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"vericrop/internal/signals/adapters/httpjson"
	"vericrop/internal/signals/ports"
)

const collaborator = "weather"

type correlationRequest struct {
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	Timestamp  string  `json:"timestamp"`
	DamageType string  `json:"damage_type,omitempty"`
}

type correlationResponse struct {
	Correlation *float64 `json:"correlation"`
}

// Client queries the weather HTTP API.
type Client struct {
	http *httpjson.Client
}

func NewClient(http *httpjson.Client) *Client {
	return &Client{http: http}
}

func (c *Client) Correlation(ctx context.Context, q ports.WeatherQuery) (float64, error) {
	req := correlationRequest{
		Latitude:   q.Location.Latitude,
		Longitude:  q.Location.Longitude,
		Timestamp:  q.At.UTC().Format(time.RFC3339),
		DamageType: q.DamageType,
	}
	var resp correlationResponse
	if err := c.http.PostJSON(ctx, "/v1/correlation", req, &resp); err != nil {
		return 0, err
	}
	if resp.Correlation == nil {
		return 0, ports.NewCollaboratorError(ports.ErrorBadData, collaborator, "response missing correlation", nil)
	}
	v := *resp.Correlation
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, ports.NewCollaboratorError(ports.ErrorBadData, collaborator, fmt.Sprintf("correlation %v outside [0, 1]", v), nil)
	}
	return v, nil
}

// InMemory returns a fixed correlation per damage type.
type InMemory struct {
	mu      sync.RWMutex
	byType  map[string]float64
	Default float64
}

func NewInMemory(def float64) *InMemory {
	return &InMemory{byType: make(map[string]float64), Default: def}
}

func (m *InMemory) Set(damageType string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byType[damageType] = v
}

func (m *InMemory) Correlation(ctx context.Context, q ports.WeatherQuery) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.byType[q.DamageType]; ok {
		return v, nil
	}
	return m.Default, nil
}
