package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the treasury engine.
// Every method is safe on a nil *Metrics so services can run without it.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	transactions      *prometheus.CounterVec
	reportTransitions *prometheus.CounterVec
	generations       *prometheus.CounterVec
	reconcileDrift    *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		transactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_transactions_total",
				Help: "Ledger transaction writes by operation.",
			},
			[]string{"op"},
		),
		reportTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_report_transitions_total",
				Help: "Monthly report lifecycle actions.",
			},
			[]string{"action"},
		),
		generations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_ledger_generations_total",
				Help: "Ledger generation runs triggered by report approval, by result.",
			},
			[]string{"result"},
		),
		reconcileDrift: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_fund_reconcile_total",
				Help: "Fund reconciliations, labelled by whether the stored balance had drifted.",
			},
			[]string{"drift"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "treasury_http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status"},
		),
	}
}

// IncrTransaction counts a ledger write ("create", "update", "delete", "bulk_error").
func (m *Metrics) IncrTransaction(op string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(op).Inc()
}

// IncrReportTransition counts a report action ("create", "submit", "approve", ...).
func (m *Metrics) IncrReportTransition(action string) {
	if m == nil {
		return
	}
	m.reportTransitions.WithLabelValues(action).Inc()
}

// IncrGeneration counts a ledger generation outcome.
func (m *Metrics) IncrGeneration(result string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(result).Inc()
}

// IncrReconcile counts a fund reconciliation.
func (m *Metrics) IncrReconcile(drifted bool) {
	if m == nil {
		return
	}
	m.reconcileDrift.WithLabelValues(strconv.FormatBool(drifted)).Inc()
}

// ObserveHTTP records one request duration.
func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}
