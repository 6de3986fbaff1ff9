package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for dropwatch
type Metrics struct {
	// PubSub connection metrics
	PubSubConnected      prometheus.Gauge
	FramesReceivedTotal  *prometheus.CounterVec
	FramesSentTotal      *prometheus.CounterVec
	ReconnectsTotal      *prometheus.CounterVec
	DroppedFramesTotal   *prometheus.CounterVec
	TopicsHeld           prometheus.Gauge
	PendingRequests      prometheus.Gauge

	// GQL client metrics
	GQLRequestsTotal   *prometheus.CounterVec
	GQLRequestDuration *prometheus.HistogramVec

	// Watcher metrics
	WatchSwitchesTotal prometheus.Counter
	WatchPingsTotal    prometheus.Counter
	RefreshPassesTotal prometheus.Counter
	ChannelsOnline     prometheus.Gauge

	// Claim metrics
	ClaimsTotal       *prometheus.CounterVec
	PointsEarnedTotal prometheus.Counter

	// Storage metrics
	StorageOperations *prometheus.CounterVec
}

// GetMetrics returns the metrics singleton
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics initializes and registers all metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	// PubSub connection metrics
	m.PubSubConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropwatch_pubsub_connected",
			Help: "Whether the PubSub connection is currently ready (1) or not (0)",
		},
	)

	m.FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwatch_pubsub_frames_received_total",
			Help: "Total number of inbound PubSub frames by type",
		},
		[]string{"type"},
	)

	m.FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwatch_pubsub_frames_sent_total",
			Help: "Total number of outbound PubSub frames by type",
		},
		[]string{"type"},
	)

	m.ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwatch_pubsub_reconnects_total",
			Help: "Total number of PubSub reconnects by reason",
		},
		[]string{"reason"},
	)

	m.DroppedFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwatch_pubsub_dropped_frames_total",
			Help: "Total number of inbound frames dropped by reason",
		},
		[]string{"reason"},
	)

	m.TopicsHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropwatch_pubsub_topics_held",
			Help: "Number of topics currently held on the connection",
		},
	)

	m.PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropwatch_pubsub_pending_requests",
			Help: "Number of requests awaiting a correlated reply",
		},
	)

	// GQL client metrics
	m.GQLRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwatch_gql_requests_total",
			Help: "Total number of GQL requests by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	m.GQLRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dropwatch_gql_request_duration_seconds",
			Help:    "GQL request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // from 10ms to ~40s
		},
		[]string{"operation"},
	)

	// Watcher metrics
	m.WatchSwitchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropwatch_watch_switches_total",
			Help: "Total number of engagement switches between channels",
		},
	)

	m.WatchPingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropwatch_watch_pings_total",
			Help: "Total number of minute-watched pings sent",
		},
	)

	m.RefreshPassesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropwatch_refresh_passes_total",
			Help: "Total number of full channel refresh passes",
		},
	)

	m.ChannelsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropwatch_channels_online",
			Help: "Number of tracked channels currently live",
		},
	)

	// Claim metrics
	m.ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwatch_claims_total",
			Help: "Total number of successful claims by kind",
		},
		[]string{"kind"}, // drop, points_bonus
	)

	m.PointsEarnedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropwatch_points_earned_total",
			Help: "Total community points earned while watching",
		},
	)

	// Storage metrics
	m.StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwatch_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "success"},
	)

	return m
}
