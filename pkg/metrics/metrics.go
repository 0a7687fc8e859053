package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Topology gauges
	TopologyVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringtopo_topology_version",
			Help: "Current committed topology version on this replica",
		},
	)

	TopologyFenceVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringtopo_topology_fence_version",
			Help: "Current fence version on this replica",
		},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ringtopo_nodes_total",
			Help: "Total number of nodes by collection (normal, new, transition, left)",
		},
		[]string{"collection"},
	)

	TopologyBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringtopo_topology_busy",
			Help: "Whether the topology currently has an in-progress transition (1) or not (0)",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringtopo_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringtopo_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringtopo_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringtopo_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ringtopo_raft_apply_duration_seconds",
			Help:    "Time taken to apply a committed Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ringtopo_raft_commit_duration_seconds",
			Help:    "Time taken for a Raft Apply call to return in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Coordinator metrics
	TransitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ringtopo_transition_duration_seconds",
			Help:    "Time spent in each transition state, by state and request kind",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"tstate", "request_kind"},
	)

	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringtopo_operations_total",
			Help: "Total number of per-node and global operations completed, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	RequestsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ringtopo_requests_pending",
			Help: "Number of per-node requests currently queued",
		},
	)

	// RPC metrics
	BarrierAcksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringtopo_barrier_acks_total",
			Help: "Total number of barrier acknowledgements received, by RPC name and outcome",
		},
		[]string{"rpc", "outcome"},
	)

	RPCRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ringtopo_rpc_retries_total",
			Help: "Total number of coordinator RPC retries, by RPC name",
		},
		[]string{"rpc"},
	)

	RPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ringtopo_rpc_duration_seconds",
			Help:    "Coordinator RPC round-trip duration in seconds, by RPC name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"rpc"},
	)

	// Fencing metrics
	FencingRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ringtopo_fencing_rejections_total",
			Help: "Total number of data-plane requests rejected by the fencing registry for a stale topology version",
		},
	)
)

func init() {
	prometheus.MustRegister(TopologyVersion)
	prometheus.MustRegister(TopologyFenceVersion)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(TopologyBusy)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(TransitionDuration)
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(RequestsPending)
	prometheus.MustRegister(BarrierAcksTotal)
	prometheus.MustRegister(RPCRetriesTotal)
	prometheus.MustRegister(RPCDuration)
	prometheus.MustRegister(FencingRejectionsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
