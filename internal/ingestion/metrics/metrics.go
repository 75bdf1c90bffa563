package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Record outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// Metrics provides observability for the ingestion pipeline.
// All methods are safe on a nil receiver so tests can run without a registry.
type Metrics struct {
	Records          *prometheus.CounterVec
	Conflicts        *prometheus.CounterVec
	CommitRetries    *prometheus.CounterVec
	CycleDuration    *prometheus.HistogramVec
	CycleRetries     *prometheus.CounterVec
	CircuitOpen      *prometheus.GaugeVec
	RateLimited      *prometheus.CounterVec
	OutboxPublished  *prometheus.CounterVec
	OutboxPending    prometheus.Gauge
	ImportRowsFailed prometheus.Counter
}

// New registers the metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vendorgrid_ingestion_records_total",
			Help: "Records processed per source by outcome",
		}, []string{"source", "outcome"}),
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vendorgrid_ingestion_conflicts_total",
			Help: "Field values discarded by the source tie-break",
		}, []string{"source"}),
		CommitRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vendorgrid_ingestion_commit_retries_total",
			Help: "Commits re-resolved after a concurrent write",
		}, []string{"source"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vendorgrid_ingestion_cycle_duration_seconds",
			Help:    "Wall time of one ingestion cycle including retries",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"source", "status"}),
		CycleRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vendorgrid_ingestion_cycle_retries_total",
			Help: "Cycle attempts retried after a transient source failure",
		}, []string{"source"}),
		CircuitOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vendorgrid_ingestion_source_circuit_open",
			Help: "1 when the source circuit breaker is open",
		}, []string{"source"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vendorgrid_ingestion_rate_limited_total",
			Help: "Cycle starts deferred by the source rate limit",
		}, []string{"source"}),
		OutboxPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vendorgrid_outbox_published_total",
			Help: "Change events delivered per sink and status",
		}, []string{"sink", "status"}),
		OutboxPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "vendorgrid_outbox_pending",
			Help: "Unpublished change events seen by the last relay poll",
		}),
		ImportRowsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "vendorgrid_import_rows_failed_total",
			Help: "Rows rejected by manual CSV imports",
		}),
	}
}

func (m *Metrics) RecordOutcome(source, outcome string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) AddConflicts(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Conflicts.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) IncrementCommitRetry(source string) {
	if m == nil {
		return
	}
	m.CommitRetries.WithLabelValues(source).Inc()
}

// ObserveCycle records a finished cycle. Call with the cycle start time.
func (m *Metrics) ObserveCycle(source, status string, start time.Time) {
	if m == nil {
		return
	}
	m.CycleDuration.WithLabelValues(source, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementCycleRetry(source string) {
	if m == nil {
		return
	}
	m.CycleRetries.WithLabelValues(source).Inc()
}

func (m *Metrics) SetCircuitOpen(source string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitOpen.WithLabelValues(source).Set(v)
}

func (m *Metrics) IncrementRateLimited(source string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordPublish(sink string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.OutboxPublished.WithLabelValues(sink, status).Inc()
}

func (m *Metrics) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

func (m *Metrics) AddImportRowsFailed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ImportRowsFailed.Add(float64(n))
}
