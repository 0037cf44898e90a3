package ledgeradapter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers ledger calls and reconciliation outcomes.
type Metrics struct {
	calls           *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
	lawSyncs        *prometheus.CounterVec
	votersCorrected prometheus.Counter
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "legisledger_ledger_calls_total",
			Help: "ledger calls by operation and result",
		}, []string{"op", "result"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "legisledger_ledger_call_duration_seconds",
			Help:    "ledger call latency by operation",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"op"}),
		lawSyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "legisledger_law_syncs_total",
			Help: "law reconciliations by result",
		}, []string{"result"}),
		votersCorrected: factory.NewCounter(prometheus.CounterOpts{
			Name: "legisledger_voter_flags_corrected_total",
			Help: "local voter registration flags overwritten from the ledger",
		}),
	}
}

func (m *Metrics) observeCall(op string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.calls.WithLabelValues(op, result).Inc()
	m.callDuration.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) LawSynced(updated bool) {
	if updated {
		m.lawSyncs.WithLabelValues("updated").Inc()
		return
	}
	m.lawSyncs.WithLabelValues("unchanged").Inc()
}

func (m *Metrics) LawSyncFailed() {
	m.lawSyncs.WithLabelValues("failed").Inc()
}

func (m *Metrics) VoterCorrected() {
	m.votersCorrected.Inc()
}
