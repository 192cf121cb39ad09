package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"eventhub/pulse/pkg/monitoring"
)

// Metrics holds the service-specific Prometheus metrics.
type Metrics struct {
	// WebSocket hub
	ConnectedClients  *prometheus.GaugeVec
	GroupMembers      *prometheus.GaugeVec
	MessagesSent      *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	GroupJoinAttempts *prometheus.CounterVec

	// Snapshot pipeline
	SnapshotBuilds        *prometheus.CounterVec
	SnapshotBuildDuration *prometheus.HistogramVec
	CacheOps              *prometheus.CounterVec

	// Domain events
	DomainEvents *prometheus.CounterVec
}

// New registers the service metrics on the shared collector.
func New(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		ConnectedClients: mc.NewGauge("ws_connected_clients",
			"Currently connected WebSocket clients", []string{}),
		GroupMembers: mc.NewGauge("ws_group_members",
			"Current members per broadcast group", []string{"group"}),
		MessagesSent: mc.NewCounter("ws_messages_sent_total",
			"WebSocket frames delivered to clients", []string{"type"}),
		MessagesDropped: mc.NewCounter("ws_messages_dropped_total",
			"WebSocket frames dropped due to slow clients", []string{"type"}),
		GroupJoinAttempts: mc.NewCounter("ws_group_join_attempts_total",
			"Group join attempts by outcome", []string{"group", "outcome"}),

		SnapshotBuilds: mc.NewCounter("snapshot_builds_total",
			"Snapshot builds by status", []string{"status"}),
		SnapshotBuildDuration: mc.NewHistogram("snapshot_build_duration_seconds",
			"Snapshot build duration", []string{}, nil),
		CacheOps: mc.NewCounter("cache_ops_total",
			"Cache operations by outcome", []string{"op"}),

		DomainEvents: mc.NewCounter("domain_events_total",
			"Domain events received", []string{"kind", "source"}),
	}
}
