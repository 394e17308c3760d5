package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for the payment platform.
type Metrics struct {
	AuthorizationVerdicts  *prometheus.CounterVec
	SagaTransitions        *prometheus.CounterVec
	DuplicateEvents        *prometheus.CounterVec
	SettlementLatency      prometheus.Histogram
	SettlementAttempts     prometheus.Counter
	ReconciliationRuns     *prometheus.CounterVec
	ReconciliationMismatch *prometheus.CounterVec
	LedgerEntries          prometheus.Counter
	gatherer               prometheus.Gatherer
}

// NewDefault registers metrics with the default Prometheus registry.
func NewDefault() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// New registers metrics with the provided registry. If registry is nil, a new
// isolated registry is created.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return newMetrics(registry, registry)
}

func newMetrics(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		AuthorizationVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_authorization_verdicts_total",
			Help: "Total authorization verdicts by outcome.",
		}, []string{"outcome"}),
		SagaTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_saga_transitions_total",
			Help: "Total saga status transitions by target status.",
		}, []string{"status"}),
		DuplicateEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_duplicate_events_total",
			Help: "Total duplicate event deliveries absorbed by idempotency checks.",
		}, []string{"kind"}),
		SettlementLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "payment_settlement_latency_seconds",
			Help:    "Settlement latency in seconds, including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		SettlementAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_settlement_attempts_total",
			Help: "Total settlement attempts against the provider.",
		}),
		ReconciliationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_reconciliation_runs_total",
			Help: "Total reconciliation runs by final status.",
		}, []string{"status"}),
		ReconciliationMismatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_reconciliation_mismatches_total",
			Help: "Total reconciliation mismatches by type.",
		}, []string{"type"}),
		LedgerEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_ledger_entries_total",
			Help: "Total ledger entries created.",
		}),
		gatherer: gatherer,
	}

	registerer.MustRegister(
		m.AuthorizationVerdicts,
		m.SagaTransitions,
		m.DuplicateEvents,
		m.SettlementLatency,
		m.SettlementAttempts,
		m.ReconciliationRuns,
		m.ReconciliationMismatch,
		m.LedgerEntries,
	)

	return m
}

// Handler returns an HTTP handler that exposes metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveSettlementLatency records total settlement duration for one payment.
func (m *Metrics) ObserveSettlementLatency(d time.Duration) {
	m.SettlementLatency.Observe(d.Seconds())
}

// IncVerdict increments the authorization verdict counter.
func (m *Metrics) IncVerdict(approved bool) {
	outcome := "approved"
	if !approved {
		outcome = "rejected"
	}
	m.AuthorizationVerdicts.WithLabelValues(outcome).Inc()
}

// IncTransition increments the saga transition counter for a target status.
func (m *Metrics) IncTransition(status string) {
	m.SagaTransitions.WithLabelValues(status).Inc()
}

// IncDuplicate increments the duplicate event counter for an event kind.
func (m *Metrics) IncDuplicate(kind string) {
	m.DuplicateEvents.WithLabelValues(kind).Inc()
}

// AddSettlementAttempts adds the attempts used by one settlement run.
func (m *Metrics) AddSettlementAttempts(n int) {
	m.SettlementAttempts.Add(float64(n))
}

// IncReconciliationRun increments the run counter for a final status.
func (m *Metrics) IncReconciliationRun(status string) {
	m.ReconciliationRuns.WithLabelValues(status).Inc()
}

// IncMismatch increments the mismatch counter for a mismatch type.
func (m *Metrics) IncMismatch(mismatchType string) {
	m.ReconciliationMismatch.WithLabelValues(mismatchType).Inc()
}

// IncLedgerEntries increments the ledger entries counter by 1.
func (m *Metrics) IncLedgerEntries() {
	m.LedgerEntries.Inc()
}
