// Package metrics defines prometheus metric types for the replay pipeline
// and provides convenience methods to add accounting to its stages.
//
// When defining new operations or metrics, these are helpful values to
// track: things coming into or going out of a stage (records, channels,
// nodes, HTTP calls), the success or error status of any of the above, and
// the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsDecodedTotal counts records successfully decoded by the
	// message parser, labeled by gossip message kind.
	RecordsDecodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timemachine_records_decoded_total",
			Help: "Number of gossip records decoded, by message kind.",
		}, []string{"kind"})

	// RecordsSkippedTotal counts raw messages the container layer passed
	// through but that the parser chose not to decode, or that the
	// reducer chose not to apply (future update, stale update, etc).
	RecordsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timemachine_records_skipped_total",
			Help: "Number of records skipped, by reason.",
		}, []string{"reason"})

	// ReplayDuration tracks how long a full Replay() call took.
	ReplayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timemachine_replay_duration_seconds",
			Help:    "Wall-clock duration of a complete replay, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		})

	// SnapshotChannelCount records the number of channels in the final
	// snapshot, one observation per successful replay.
	SnapshotChannelCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timemachine_snapshot_channel_count",
			Help:    "Number of channels surviving pruning in the final snapshot.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 12),
		})

	// SnapshotNodeCount records the number of nodes in the final snapshot.
	SnapshotNodeCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timemachine_snapshot_node_count",
			Help:    "Number of nodes surviving pruning in the final snapshot.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 12),
		})

	// RecoveryTotal counts edge-recovery attempts, labeled by outcome:
	// "cache_hit", "http_recovered", "failed", "filtered".
	RecoveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timemachine_recovery_total",
			Help: "Edge recovery attempts, by outcome.",
		}, []string{"outcome"})

	// RecoveryHTTPDuration tracks the latency of the outbound HTTP GET
	// used to recover a missing policy.
	RecoveryHTTPDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timemachine_recovery_http_duration_seconds",
			Help:    "Latency of HTTP recovery lookups, in seconds.",
			Buckets: prometheus.DefBuckets,
		})

	// TraceMatchesTotal counts records emitted by the trace filter.
	TraceMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timemachine_trace_matches_total",
			Help: "Records emitted by the node trace filter, by message kind.",
		}, []string{"kind"})
)

func init() {
	log.Println("Prometheus metrics in timemachine.metrics are registered.")
}
