package weather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vericrop/internal/signals/adapters/httpjson"
	"vericrop/internal/signals/ports"
	"vericrop/pkg/platform/retry"
)

func TestClient_Correlation(t *testing.T) {
	at := time.Date(2026, 7, 10, 9, 0, 0, 0, time.FixedZone("IST", 19800))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req correlationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Timestamp != "2026-07-10T03:30:00Z" {
			t.Fatalf("timestamp not normalized to UTC: %s", req.Timestamp)
		}
		_, _ = w.Write([]byte(`{"correlation":0.64}`))
	}))
	defer srv.Close()

	c := NewClient(httpjson.New("weather", srv.URL, time.Second))
	v, err := c.Correlation(context.Background(), ports.WeatherQuery{
		Location:   ports.GeoPoint{Latitude: 19.07, Longitude: 72.87},
		At:         at,
		DamageType: "flood",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.64, v)
}

func TestClient_RejectsOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"correlation":1.4}`))
	}))
	defer srv.Close()

	c := NewClient(httpjson.New("weather", srv.URL, time.Second, httpjson.WithRetryPolicy(retry.Policy{MaxRetries: 1})))
	_, err := c.Correlation(context.Background(), ports.WeatherQuery{At: time.Now()})
	assert.Equal(t, ports.ErrorBadData, ports.CategoryOf(err))
}

func TestInMemory(t *testing.T) {
	m := NewInMemory(0.5)
	m.Set("drought", 0.9)

	v, err := m.Correlation(context.Background(), ports.WeatherQuery{DamageType: "drought"})
	require.NoError(t, err)
	assert.Equal(t, 0.9, v)

	v, err = m.Correlation(context.Background(), ports.WeatherQuery{DamageType: "hail"})
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
}
