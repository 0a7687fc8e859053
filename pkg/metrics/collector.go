package metrics

import (
	"time"

	"github.com/ringtopo/ringtopo/pkg/topology"
)

// Source is the narrow slice of manager.Manager the Collector polls.
// Declared here instead of importing pkg/manager directly since manager
// already imports pkg/metrics for RaftCommitDuration/TopologyVersion/
// FencingRejectionsTotal; an import back the other way would cycle.
type Source interface {
	Topology() *topology.Topology
	IsLeader() bool
	RaftStats() map[string]interface{}
}

// Collector periodically polls a Manager and republishes its state as
// the gauges declared in metrics.go, the same fixed-interval poll-and-set shape the
// teacher's Collector used for node/service/task counts, re-themed to
// topology/fencing/Raft state.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector returns a Collector that polls source every 15s once
// started.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s ticker.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectTopologyMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectTopologyMetrics() {
	t := c.source.Topology()

	TopologyVersion.Set(float64(t.Version))
	TopologyFenceVersion.Set(float64(t.FenceVersion))

	busy := 0.0
	if t.IsBusy() {
		busy = 1.0
	}
	TopologyBusy.Set(busy)

	NodesTotal.WithLabelValues("normal").Set(float64(len(t.NormalNodes)))
	NodesTotal.WithLabelValues("new").Set(float64(len(t.NewNodes)))
	NodesTotal.WithLabelValues("transition").Set(float64(len(t.TransitionNodes)))
	NodesTotal.WithLabelValues("left").Set(float64(len(t.LeftNodes)))

	RequestsPending.Set(float64(len(t.Requests)))
}

func (c *Collector) collectRaftMetrics() {
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.source.RaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		RaftPeers.Set(float64(peers))
	}
}
