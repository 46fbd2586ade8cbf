package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for claim dispositions.
type Metrics struct {
	// Dispositions by state and reason
	Dispositions *prometheus.CounterVec

	// Composite confidence at decision time
	Confidence prometheus.Histogram

	// Time from submission to first disposition
	TimeToDecision prometheus.Histogram
}

// New registers the decision metrics with reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Dispositions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vericrop_decision_dispositions_total",
			Help: "Claim dispositions by state and reason",
		}, []string{"state", "reason"}),

		Confidence: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vericrop_decision_confidence",
			Help:    "Composite confidence of decided claims",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		}),

		TimeToDecision: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vericrop_decision_time_to_decision_seconds",
			Help:    "Duration from claim submission to its first disposition",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 120},
		}),
	}
}

// ObserveDisposition records one disposition.
func (m *Metrics) ObserveDisposition(state, reason string, confidence float64) {
	if m != nil {
		m.Dispositions.WithLabelValues(state, reason).Inc()
		m.Confidence.Observe(confidence)
	}
}

// ObserveTimeToDecision records submission-to-decision latency.
func (m *Metrics) ObserveTimeToDecision(d time.Duration) {
	if m != nil {
		m.TimeToDecision.Observe(d.Seconds())
	}
}
