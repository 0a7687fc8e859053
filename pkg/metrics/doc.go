/*
Package metrics provides Prometheus metrics collection and exposition for
ringtopo.

The metrics package defines and registers every ringtopo metric using the
Prometheus client library, giving observability into topology state,
consensus health, and coordinator RPC behavior. Metrics are exposed via
an HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Topology: version, fence_version, busy     │          │
	│  │  Raft: leader status, log index, peers      │          │
	│  │  Coordinator: transition duration, ops      │          │
	│  │  RPC: barrier acks, retries, duration       │          │
	│  │  Fencing: rejection count                   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Topology Metrics:

ringtopo_topology_version:
  - Type: Gauge
  - Description: current committed topology version on this replica

ringtopo_topology_fence_version:
  - Type: Gauge
  - Description: current fence_version on this replica

ringtopo_nodes_total{collection}:
  - Type: Gauge
  - Description: node count by collection (normal, new, transition, left)

ringtopo_topology_busy:
  - Type: Gauge
  - Description: 1 if a transition/global request is in progress, else 0

ringtopo_requests_pending:
  - Type: Gauge
  - Description: number of per-node requests currently queued

Raft Metrics:

ringtopo_raft_is_leader:
  - Type: Gauge
  - Description: 1 if this replica is the Raft leader, else 0

ringtopo_raft_peers_total, ringtopo_raft_log_index, ringtopo_raft_applied_index:
  - Type: Gauge
  - Description: Raft cluster size and log progress

ringtopo_raft_apply_duration_seconds, ringtopo_raft_commit_duration_seconds:
  - Type: Histogram
  - Description: time to apply a committed entry / time for Apply to return

Coordinator Metrics:

ringtopo_transition_duration_seconds{tstate, request_kind}:
  - Type: Histogram
  - Description: time spent in each transition state

ringtopo_operations_total{kind, outcome}:
  - Type: Counter
  - Description: completed per-node/global operations by kind and outcome

RPC Metrics:

ringtopo_barrier_acks_total{rpc, outcome}, ringtopo_rpc_retries_total{rpc},
ringtopo_rpc_duration_seconds{rpc}:
  - Type: Counter / Histogram
  - Description: barrier/stream RPC outcomes, retry counts, durations

Fencing Metrics:

ringtopo_fencing_rejections_total:
  - Type: Counter
  - Description: data-plane requests rejected for a stale fencing token

# Usage

	import "github.com/ringtopo/ringtopo/pkg/metrics"

	metrics.NodesTotal.WithLabelValues("normal").Set(3)
	metrics.OperationsTotal.WithLabelValues("join", "success").Inc()

	timer := metrics.NewTimer()
	// ... drive a transition ...
	timer.ObserveDurationVec(metrics.TransitionDuration, "write_both_read_new", "join")

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/manager: updates Raft and fencing-rejection metrics
  - pkg/coordinator: records transition/RPC/operation metrics
  - Prometheus: scrapes the /metrics endpoint

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate
    registration, so every metric is available before main() runs.

Label Discipline:
  - Labels are closed enumerations (collection, kind, outcome, tstate,
    rpc name) — never node ids or request ids, to keep cardinality
    bounded.

Timer Pattern:
  - Create a Timer at the start of an operation, observe its duration to
    a histogram (optionally with labels) when it completes.
*/
package metrics
