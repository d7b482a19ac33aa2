// Package metrics exposes the chain engine's Prometheus instrumentation:
// chain height/difficulty, pool occupancy, and PIBD sync progress.
// Adapted from the teacher's package-level gauge/counter + init()
// MustRegister pattern (p2pool-go's internal/metrics), generalized from
// mining-pool/stratum metrics to the chain-state-engine concerns this
// repo actually has.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "grinchain",
		Name:      "chain_height",
		Help:      "Height of the current chain head.",
	})

	ChainTotalDifficulty = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "grinchain",
		Name:      "chain_total_difficulty",
		Help:      "Total difficulty of the current chain head.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "grinchain",
		Name:      "peers_connected",
		Help:      "Number of connected P2P peers.",
	})

	OrphansBuffered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "grinchain",
		Name:      "orphans_buffered",
		Help:      "Number of blocks buffered in the orphan cache awaiting their parent.",
	})

	ReorgsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grinchain",
		Name:      "reorgs_total",
		Help:      "Total number of successful chain reorganizations.",
	})

	BlocksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grinchain",
		Name:      "blocks_processed_total",
		Help:      "Blocks processed by the pipeline, by outcome.",
	}, []string{"result"})

	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "grinchain",
		Name:      "mempool_size",
		Help:      "Number of transactions currently in the mempool.",
	})

	StempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "grinchain",
		Name:      "stempool_size",
		Help:      "Number of transactions currently in the Dandelion stempool.",
	})

	TxFluffedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grinchain",
		Name:      "tx_fluffed_total",
		Help:      "Total transactions moved from the stempool to the mempool and broadcast.",
	})

	TxEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grinchain",
		Name:      "tx_evicted_total",
		Help:      "Total stempool transactions evicted instead of fluffed (e.g. became invalid).",
	})

	PIBDSegmentsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grinchain",
		Name:      "pibd_segments_received_total",
		Help:      "Segments received during PIBD fast sync, by tree.",
	}, []string{"tree"})

	PIBDSegmentsOutstanding = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "grinchain",
		Name:      "pibd_segments_outstanding",
		Help:      "Segment requests currently in flight across all trees.",
	})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "grinchain",
		Name:      "uptime_seconds",
		Help:      "Node uptime in seconds.",
	})
)

func init() {
	prometheus.MustRegister(
		ChainHeight,
		ChainTotalDifficulty,
		PeersConnected,
		OrphansBuffered,
		ReorgsTotal,
		BlocksProcessed,
		MempoolSize,
		StempoolSize,
		TxFluffedTotal,
		TxEvictedTotal,
		PIBDSegmentsReceived,
		PIBDSegmentsOutstanding,
		UptimeSeconds,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
