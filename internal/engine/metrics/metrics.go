package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the claim pipeline and its collaborators.
type Metrics struct {
	SignalDuration   *prometheus.HistogramVec
	SignalOutcomes   *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	LedgerAppends    *prometheus.CounterVec
	Disbursements    *prometheus.CounterVec
	JobsRejected     prometheus.Counter
	ReviewsEnqueued  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		SignalDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vericrop_signal_duration_seconds",
			Help:    "Signal collector latency by signal and status",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 16},
		}, []string{"signal", "status"}),

		SignalOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vericrop_signal_outcomes_total",
			Help: "Signal collector outcomes by signal and status",
		}, []string{"signal", "status"}),

		PipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vericrop_pipeline_duration_seconds",
			Help:    "Duration of one claim pipeline run",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),

		LedgerAppends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vericrop_ledger_appends_total",
			Help: "Ledger append attempts by outcome",
		}, []string{"outcome"}),

		Disbursements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vericrop_loan_disbursements_total",
			Help: "Loan disbursement attempts by outcome",
		}, []string{"outcome"}),

		JobsRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "vericrop_pipeline_jobs_rejected_total",
			Help: "Pipeline jobs rejected because the worker queue was full or stopped",
		}),

		ReviewsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "vericrop_review_requests_total",
			Help: "Claims handed to the human review queue",
		}),
	}
}

func (m *Metrics) ObserveSignal(name, status string, seconds float64) {
	if m != nil {
		m.SignalDuration.WithLabelValues(name, status).Observe(seconds)
		m.SignalOutcomes.WithLabelValues(name, status).Inc()
	}
}

func (m *Metrics) ObserveLedgerAppend(outcome string) {
	if m != nil {
		m.LedgerAppends.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveDisbursement(outcome string) {
	if m != nil {
		m.Disbursements.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObservePipeline(d time.Duration) {
	if m != nil {
		m.PipelineDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncJobsRejected() {
	if m != nil {
		m.JobsRejected.Inc()
	}
}

func (m *Metrics) IncReviewsEnqueued() {
	if m != nil {
		m.ReviewsEnqueued.Inc()
	}
}
