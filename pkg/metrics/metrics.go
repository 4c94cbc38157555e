package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BookUpdates counts level updates applied per venue and side
var BookUpdates = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "arbfinder_book_updates_total",
		Help: "Total number of price level updates applied to books",
	},
	[]string{"venue", "side"},
)

// BookSnapshots counts full snapshots applied per venue
var BookSnapshots = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "arbfinder_book_snapshots_total",
		Help: "Total number of full snapshots applied to books",
	},
	[]string{"venue"},
)

// Feed integrity metrics
var (
	RejectedUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbfinder_rejected_updates_total",
			Help: "Updates rejected by validation, by venue and reason",
		},
		[]string{"venue", "reason"},
	)

	ChecksumMismatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbfinder_checksum_mismatches_total",
			Help: "Venue checksums that disagreed with the local book",
		},
		[]string{"venue"},
	)

	SequenceGaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbfinder_sequence_gaps_total",
			Help: "Diff batches dropped because of a sequence gap",
		},
		[]string{"venue"},
	)
)

// BookEvents counts market events emitted by the event processor
var BookEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "arbfinder_book_events_total",
		Help: "Market events derived from book changes",
	},
	[]string{"type"},
)

// Detection metrics
var (
	Opportunities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbfinder_opportunities_total",
			Help: "Arbitrage opportunities found, by symbol",
		},
		[]string{"symbol"},
	)

	DetectionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arbfinder_detection_latency_seconds",
			Help:    "Latency in seconds of one detection pass over a symbol",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)
)

// Registry state
var (
	Books = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbfinder_books",
			Help: "Number of tracked books by state (total/empty/crossed/healthy)",
		},
		[]string{"state"},
	)

	SnapshotCacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbfinder_snapshot_cache_requests_total",
			Help: "Snapshot cache lookups by result (hit/miss)",
		},
		[]string{"result"},
	)

	SnapshotStore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbfinder_snapshot_store_ops",
			Help: "L2 snapshot store operations since start (hits/misses/sets/errors)",
		},
		[]string{"op"},
	)
)

// WebSocket fan-out
var (
	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbfinder_ws_connections",
			Help: "Currently connected websocket clients",
		},
	)

	WSMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbfinder_ws_messages_total",
			Help: "Messages broadcast over websocket, by topic",
		},
		[]string{"topic"},
	)
)

func init() {
	prometheus.MustRegister(BookUpdates, BookSnapshots)
	prometheus.MustRegister(RejectedUpdates, ChecksumMismatches, SequenceGaps)
	prometheus.MustRegister(BookEvents, Opportunities, DetectionLatency)
	prometheus.MustRegister(Books, SnapshotCacheRequests, SnapshotStore)
	prometheus.MustRegister(WSConnections, WSMessages)
}
