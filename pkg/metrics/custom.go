package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IngestedTransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dexvault",
			Name:      "ingested_transfers_total",
			Help:      "Total number of chain transfers pulled and normalized.",
		},
		[]string{"campaign", "direction"},
	)

	AppendResultTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dexvault",
			Name:      "ledger_append_result_total",
			Help:      "Ledger append outcomes (created/updated/duplicate).",
		},
		[]string{"result"},
	)

	ProjectionRebuildTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dexvault",
			Name:      "projection_rebuild_total",
			Help:      "Balance projections recomputed from a full ledger fold.",
		},
		[]string{"reason"}, // cache_miss / rederive
	)

	SourceErrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dexvault",
			Name:      "chain_source_error_total",
			Help:      "Chain data source failures seen by the refresher.",
		},
		[]string{"op"},
	)

	InconsistentKeyGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dexvault",
			Name:      "inconsistent_ledger_keys",
			Help:      "Number of (wallet, campaign) keys with a negative derived balance.",
		},
	)

	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dexvault",
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"service", "path"},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		IngestedTransfersTotal,
		AppendResultTotal,
		ProjectionRebuildTotal,
		SourceErrorTotal,
		InconsistentKeyGauge,
		RateLimitBlockTotal,
	)
}
