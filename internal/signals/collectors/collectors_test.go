package collectors

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vericrop/internal/signals"
	"vericrop/internal/signals/ports"
	"vericrop/pkg/domain"
)

const (
	mobileUA  = "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Mobile Safari/537.36"
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36"
)

var mumbai = ports.GeoPoint{Latitude: 19.0760, Longitude: 72.8777}

type fakeVision struct {
	result    ports.VisionResult
	err       error
	calls     atomic.Int32
	gate      chan struct{}
	cancelled atomic.Bool
}

func (f *fakeVision) Score(ctx context.Context, _ string) (ports.VisionResult, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			f.cancelled.Store(true)
			return ports.VisionResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

type fakeWeather struct {
	score float64
	err   error
	last  ports.WeatherQuery
}

func (f *fakeWeather) Correlation(_ context.Context, q ports.WeatherQuery) (float64, error) {
	f.last = q
	return f.score, f.err
}

type fakeEvidence struct {
	meta ports.EvidenceMetadata
	err  error
}

func (f fakeEvidence) Metadata(context.Context, string) (ports.EvidenceMetadata, error) {
	return f.meta, f.err
}

func cleanMetadata(submitted time.Time) ports.EvidenceMetadata {
	return ports.EvidenceMetadata{
		Ref:         "claims/evidence-1.mp4",
		Capture:     ports.GeoPoint{Latitude: 19.0800, Longitude: 72.8800},
		HasCapture:  true,
		CapturedAt:  submitted.Add(-2 * time.Hour),
		DeviceInfo:  mobileUA,
		ContentHash: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
	}
}

func input(submitted time.Time) signals.Input {
	return signals.Input{
		ClaimID:     domain.NewClaimID(),
		Location:    mumbai,
		DamageType:  "flood",
		SubmittedAt: submitted,
		EvidenceRef: "claims/evidence-1.mp4",
	}
}

func TestSolarShadow_Collect(t *testing.T) {
	submitted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("matching shadow scores high and LOW", func(t *testing.T) {
		c := NewSolarShadow(&fakeVision{result: ports.VisionResult{ObservedShadowAzimuth: 257.24}})
		r, err := c.Collect(context.Background(), input(submitted))
		require.NoError(t, err)
		assert.Equal(t, domain.RiskLow, r.RiskTier)
		assert.InDelta(t, 1-1.0/45, r.Score, 1e-9)
		assert.Contains(t, r.Detail, "expected 256.24")
	})

	t.Run("large variance scores zero and HIGH", func(t *testing.T) {
		c := NewSolarShadow(&fakeVision{result: ports.VisionResult{ObservedShadowAzimuth: 100}})
		r, err := c.Collect(context.Background(), input(submitted))
		require.NoError(t, err)
		assert.Equal(t, domain.RiskHigh, r.RiskTier)
		assert.Zero(t, r.Score)
	})

	t.Run("capture time is preferred over submission time", func(t *testing.T) {
		in := input(submitted)
		in.Evidence.CapturedAt = time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)
		c := NewSolarShadow(&fakeVision{result: ports.VisionResult{ObservedShadowAzimuth: 160.03}})
		r, err := c.Collect(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, 1.0, r.Score)
	})

	t.Run("vision errors propagate", func(t *testing.T) {
		c := NewSolarShadow(&fakeVision{err: errors.New("vision down")})
		_, err := c.Collect(context.Background(), input(submitted))
		assert.Error(t, err)
	})

	t.Run("out of range observation is bad data", func(t *testing.T) {
		c := NewSolarShadow(&fakeVision{result: ports.VisionResult{ObservedShadowAzimuth: 400}})
		_, err := c.Collect(context.Background(), input(submitted))
		assert.Equal(t, ports.ErrorBadData, ports.CategoryOf(err))
	})
}

func TestWeather_Collect(t *testing.T) {
	submitted := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)

	w := &fakeWeather{score: 0.7}
	r, err := NewWeather(w).Collect(context.Background(), input(submitted))
	require.NoError(t, err)
	assert.Equal(t, 0.7, r.Score)
	assert.Equal(t, domain.RiskNone, r.RiskTier)
	assert.Equal(t, "flood", w.last.DamageType)
	assert.Equal(t, submitted, w.last.At)

	_, err = NewWeather(&fakeWeather{score: 1.2}).Collect(context.Background(), input(submitted))
	assert.Equal(t, ports.ErrorBadData, ports.CategoryOf(err))
}

func TestDamageClassification_Collect(t *testing.T) {
	r, err := NewDamageClassification(&fakeVision{result: ports.VisionResult{DamageConfidence: 0.83}}).
		Collect(context.Background(), input(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 0.83, r.Score)
	assert.Equal(t, domain.RiskNone, r.RiskTier)

	_, err = NewDamageClassification(&fakeVision{result: ports.VisionResult{DamageConfidence: -1}}).
		Collect(context.Background(), input(time.Now()))
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	submitted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		mutate  func(*ports.EvidenceMetadata)
		tier    domain.RiskTier
		score   float64
		finding string
	}{
		{name: "clean evidence", mutate: func(*ports.EvidenceMetadata) {}, tier: domain.RiskLow, score: 1, finding: "all checks passed"},
		{name: "capture far from claim", mutate: func(m *ports.EvidenceMetadata) { m.Capture = ports.GeoPoint{Latitude: 18.52, Longitude: 73.85} }, tier: domain.RiskHigh, score: 0.5, finding: "too far"},
		{name: "no capture gps", mutate: func(m *ports.EvidenceMetadata) { m.HasCapture = false }, tier: domain.RiskHigh, score: 0.5, finding: "gps missing"},
		{name: "captured after submission", mutate: func(m *ports.EvidenceMetadata) { m.CapturedAt = submitted.Add(time.Minute) }, tier: domain.RiskMedium, score: 0.8, finding: "after submission"},
		{name: "stale capture", mutate: func(m *ports.EvidenceMetadata) { m.CapturedAt = submitted.Add(-73 * time.Hour) }, tier: domain.RiskMedium, score: 0.8, finding: "older than 72h"},
		{name: "desktop device", mutate: func(m *ports.EvidenceMetadata) { m.DeviceInfo = desktopUA }, tier: domain.RiskMedium, score: 0.85, finding: "not mobile"},
		{name: "missing hash", mutate: func(m *ports.EvidenceMetadata) { m.ContentHash = "" }, tier: domain.RiskMedium, score: 0.85, finding: "hash missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := cleanMetadata(submitted)
			tt.mutate(&meta)
			r := Inspect(meta, mumbai, submitted)
			assert.Equal(t, tt.tier, r.RiskTier)
			assert.InDelta(t, tt.score, r.Score, 1e-9)
			assert.Contains(t, r.Detail, tt.finding)
		})
	}

	t.Run("penalties accumulate", func(t *testing.T) {
		r := Inspect(ports.EvidenceMetadata{}, mumbai, submitted)
		assert.Equal(t, domain.RiskHigh, r.RiskTier)
		assert.InDelta(t, 0, r.Score, 1e-9)
		assert.Contains(t, r.Detail, "content hash missing")
	})
}

func TestVideoForensics_Collect(t *testing.T) {
	submitted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("reads store when input carries no metadata", func(t *testing.T) {
		c := NewVideoForensics(fakeEvidence{meta: cleanMetadata(submitted)})
		r, err := c.Collect(context.Background(), input(submitted))
		require.NoError(t, err)
		assert.Equal(t, 1.0, r.Score)
	})

	t.Run("store errors propagate", func(t *testing.T) {
		c := NewVideoForensics(fakeEvidence{err: errors.New("not found")})
		_, err := c.Collect(context.Background(), input(submitted))
		assert.Error(t, err)
	})
}

func TestDistanceKm(t *testing.T) {
	assert.Zero(t, DistanceKm(mumbai, mumbai))
	// Mumbai to Pune is roughly 120 km.
	d := DistanceKm(mumbai, ports.GeoPoint{Latitude: 18.5204, Longitude: 73.8567})
	assert.InDelta(t, 120, d, 5)
}

func TestIsMobileDevice(t *testing.T) {
	assert.True(t, IsMobileDevice(mobileUA))
	assert.False(t, IsMobileDevice(desktopUA))
	assert.False(t, IsMobileDevice(""))
}

func TestSharedVision_CollapsesConcurrentCalls(t *testing.T) {
	gate := make(chan struct{})
	inner := &fakeVision{result: ports.VisionResult{DamageConfidence: 0.9}, gate: gate}
	shared := NewSharedVision(inner)

	var wg sync.WaitGroup
	results := make([]ports.VisionResult, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := shared.Score(context.Background(), "ref-1")
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	// Let both callers join the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 0.9, results[0].DamageConfidence)
	assert.Equal(t, 0.9, results[1].DamageConfidence)
}

func TestSharedVision_HonoursCallerCancellation(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	shared := NewSharedVision(&fakeVision{gate: gate})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := shared.Score(ctx, "ref-2")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSharedVision_CancelsWhenLastCallerLeaves(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	inner := &fakeVision{gate: gate}
	shared := NewSharedVision(inner)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := shared.Score(ctx, "ref-3")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Eventually(t, inner.cancelled.Load, time.Second, 5*time.Millisecond,
		"abandoned vision request must be cancelled")

	// A later caller starts a fresh request rather than joining the cancelled one.
	inner.gate = nil
	inner.result = ports.VisionResult{DamageConfidence: 0.7}
	res, err := shared.Score(context.Background(), "ref-3")
	require.NoError(t, err)
	assert.Equal(t, 0.7, res.DamageConfidence)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestSharedVision_KeepsRunningForRemainingCaller(t *testing.T) {
	gate := make(chan struct{})
	inner := &fakeVision{result: ports.VisionResult{DamageConfidence: 0.8}, gate: gate}
	shared := NewSharedVision(inner)

	var (
		wg  sync.WaitGroup
		res ports.VisionResult
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err = shared.Score(context.Background(), "ref-4")
	}()
	time.Sleep(10 * time.Millisecond)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, shortErr := shared.Score(short, "ref-4")
	assert.ErrorIs(t, shortErr, context.DeadlineExceeded)
	assert.False(t, inner.cancelled.Load(), "one caller leaving must not cancel the shared request")

	close(gate)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0.8, res.DamageConfidence)
	assert.Equal(t, int32(1), inner.calls.Load())
}
