package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vericrop/internal/ratelimit/models"
)

type stubLimiter struct {
	result *models.Result
	err    error
	keys   []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (*models.Result, error) {
	s.keys = append(s.keys, key)
	return s.result, s.err
}

type countingMetrics struct {
	rejected map[string]int
	errors   int
}

func (c *countingMetrics) IncRejected(class string) {
	if c.rejected == nil {
		c.rejected = map[string]int{}
	}
	c.rejected[class]++
}

func (c *countingMetrics) IncErrors() { c.errors++ }

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)
})

func post(h http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/claims", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLimit_Allowed(t *testing.T) {
	reset := time.Date(2026, 6, 1, 10, 1, 0, 0, time.UTC)
	limiter := &stubLimiter{result: &models.Result{Allowed: true, Limit: 30, Remaining: 29, ResetAt: reset}}
	rec := post(New(limiter).Limit("claims")(okHandler))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "29" {
		t.Fatalf("expected remaining header 29, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Reset"); got != "1780308060" {
		t.Fatalf("unexpected reset header %q", got)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "claims:203.0.113.9" {
		t.Fatalf("expected key by class and client ip, got %v", limiter.keys)
	}
}

func TestLimit_Exceeded(t *testing.T) {
	limiter := &stubLimiter{result: &models.Result{Allowed: false, Limit: 30, RetryAfter: 42, ResetAt: time.Now()}}
	m := &countingMetrics{}
	rec := post(New(limiter, WithMetrics(m)).Limit("claims")(okHandler))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Fatalf("expected Retry-After 42, got %q", got)
	}
	var body models.ExceededResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "rate_limit_exceeded" || body.RetryAfter != 42 {
		t.Fatalf("unexpected body %+v", body)
	}
	if m.rejected["claims"] != 1 {
		t.Fatalf("expected one rejection recorded, got %v", m.rejected)
	}
}

func TestLimit_FailsOpen(t *testing.T) {
	m := &countingMetrics{}
	rec := post(New(&stubLimiter{err: errors.New("redis down")}, WithMetrics(m)).Limit("claims")(okHandler))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected request to pass when limiter fails, got %d", rec.Code)
	}
	if m.errors != 1 {
		t.Fatalf("expected limiter error recorded")
	}
}

func TestLimit_Disabled(t *testing.T) {
	limiter := &stubLimiter{result: &models.Result{Allowed: false}}
	rec := post(New(limiter, WithDisabled(true)).Limit("claims")(okHandler))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
	if len(limiter.keys) != 0 {
		t.Fatalf("disabled middleware must not consult the limiter")
	}

	rec = post(New(nil).Limit("claims")(okHandler))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected pass-through without limiter, got %d", rec.Code)
	}
}
