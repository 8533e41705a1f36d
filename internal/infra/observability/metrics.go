package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sync/reconciliation engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	syncRuns        *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	txIngested      *prometheus.CounterVec
	txDeduped       *prometheus.CounterVec
	gatewayErrors   *prometheus.CounterVec
	matchesTotal    *prometheus.CounterVec
	matchConfidence prometheus.Histogram
	postingErrors   prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		syncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banksync_runs_total",
				Help: "Sync runs by bank and outcome.",
			},
			[]string{"bank", "outcome"},
		),
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "banksync_run_duration_seconds",
				Help:    "Duration of sync runs by bank.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"bank"},
		),
		txIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banksync_transactions_ingested_total",
				Help: "Bank transactions persisted during sync.",
			},
			[]string{"bank"},
		),
		txDeduped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banksync_transactions_deduped_total",
				Help: "Transactions skipped because the external reference already existed.",
			},
			[]string{"bank"},
		),
		gatewayErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banksync_gateway_errors_total",
				Help: "Errors returned by bank gateways.",
			},
			[]string{"bank", "code"},
		),
		matchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banksync_matches_total",
				Help: "Reconciliation outcomes per transaction.",
			},
			[]string{"outcome"},
		),
		matchConfidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "banksync_match_confidence",
				Help:    "Confidence score of accepted matches.",
				Buckets: []float64{50, 60, 70, 80, 85, 90, 95, 100},
			},
		),
		postingErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "banksync_posting_errors_total",
				Help: "Payment posting failures caught during reconciliation.",
			},
		),
	}
}

// RecordSyncRun records one finished sync run.
func (m *Metrics) RecordSyncRun(bank, outcome string, d time.Duration) {
	m.syncRuns.WithLabelValues(bank, outcome).Inc()
	m.syncDuration.WithLabelValues(bank).Observe(d.Seconds())
}

// IncrIngested increments the persisted-transactions counter.
func (m *Metrics) IncrIngested(bank string) {
	m.txIngested.WithLabelValues(bank).Inc()
}

// IncrDeduped increments the dedupe-skip counter.
func (m *Metrics) IncrDeduped(bank string) {
	m.txDeduped.WithLabelValues(bank).Inc()
}

// IncrGatewayError increments the gateway error counter.
func (m *Metrics) IncrGatewayError(bank, code string) {
	m.gatewayErrors.WithLabelValues(bank, code).Inc()
}

// RecordMatch records one reconciliation outcome ("matched", "unmatched",
// "skipped_debit", "claimed").
func (m *Metrics) RecordMatch(outcome string) {
	m.matchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveConfidence records the confidence of an accepted match.
func (m *Metrics) ObserveConfidence(score float64) {
	m.matchConfidence.Observe(score)
}

// IncrPostingError increments the posting-failure counter.
func (m *Metrics) IncrPostingError() {
	m.postingErrors.Inc()
}
