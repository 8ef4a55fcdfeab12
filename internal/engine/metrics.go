package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/txreplay/internal/trace"
)

// Rollback reasons used as the "reason" label.
const (
	RollbackOrphan     = "orphan"
	RollbackEndOfTrace = "end_of_trace"
)

// Metrics are the live counters of a run. They cover every executed
// statement, including ones outside the measurement window.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Statements        *prometheus.CounterVec
	StatementDuration *prometheus.HistogramVec
	Rollbacks         *prometheus.CounterVec
	TxnsAllocated     prometheus.Counter
	ActiveWorkers     prometheus.Gauge
	Recorded          prometheus.Counter
}

// NewMetrics registers the run metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Statements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txreplay_statements_total",
			Help: "Statements replayed, by kind. Skipped writes are counted.",
		}, []string{"kind"}),
		StatementDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "txreplay_statement_duration_seconds",
			Help:    "Statement latency as seen by the worker.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 18),
		}, []string{"kind"}),
		Rollbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txreplay_rollbacks_total",
			Help: "Rollbacks issued by the worker loop for unfinished transactions.",
		}, []string{"reason"}),
		TxnsAllocated: factory.NewCounter(prometheus.CounterOpts{
			Name: "txreplay_transactions_allocated_total",
			Help: "Transaction ids handed out by the allocator.",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "txreplay_active_workers",
			Help: "Workers currently replaying statements.",
		}),
		Recorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "txreplay_recorded_statements_total",
			Help: "Statements admitted into the measurement window.",
		}),
	}
}

func (m *Metrics) observeStatement(kind trace.Kind, d time.Duration) {
	if m == nil {
		return
	}
	m.Statements.WithLabelValues(kind.String()).Inc()
	m.StatementDuration.WithLabelValues(kind.String()).Observe(d.Seconds())
}

func (m *Metrics) rollback(reason string) {
	if m == nil {
		return
	}
	m.Rollbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) recorded() {
	if m == nil {
		return
	}
	m.Recorded.Inc()
}

func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

func (m *Metrics) workerStopped() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}
