package gossip

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	rtlog "github.com/ringtopo/ringtopo/pkg/log"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

// TopologySource is the narrow slice of manager.Manager the Readiness
// Watcher needs: a way to read the currently applied Topology. Declared
// here rather than imported directly to keep pkg/gossip free of a
// dependency on pkg/manager's Raft/storage wiring for what is otherwise
// a pure read.
type TopologySource interface {
	Topology() *topology.Topology
}

// Watcher runs on every replica (unlike the Coordinator, which is
// leader-only) and publishes or clears this node's "CQL ready" gossip
// bit on the first poll after its own id enters or leaves normal_nodes
// (§4.7), so the bit is cleared after the node has left normal, not
// before. It is a thin poller over the Applier's state rather than a push-driven
// observer, grounded on the teacher's reconciler/scheduler Start/Stop/
// run ticker shape rather than a callback-chain design.
type Watcher struct {
	self      topology.NodeID
	source    TopologySource
	publisher *ReadinessPublisher
	interval  time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex
	wasUp   bool
	stopCh  chan struct{}
}

// NewWatcher returns a Watcher for self, backed by source's Topology()
// reads and publishing through publisher.
func NewWatcher(self topology.NodeID, source TopologySource, publisher *ReadinessPublisher) *Watcher {
	return &Watcher{
		self:      self,
		source:    source,
		publisher: publisher,
		interval:  time.Second,
		logger:    rtlog.WithComponent("readiness_watcher"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the watch loop.
func (w *Watcher) Start() {
	go w.run()
}

// Stop ends the watch loop.
func (w *Watcher) Stop() {
	close(w.stopCh)
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.tick()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) tick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	topo := w.source.Topology()
	record, ok := topo.NormalNodes[w.self]
	isUp := ok && record.State == topology.NodeStateNormal

	if isUp == w.wasUp {
		return
	}

	if isUp {
		if err := w.publisher.Publish(w.self); err != nil {
			w.logger.Error().Err(err).Msg("failed to publish readiness bit")
			return
		}
		w.logger.Info().Str("node_id", string(w.self)).Msg("published CQL ready")
	} else {
		if err := w.publisher.Clear(w.self); err != nil {
			w.logger.Error().Err(err).Msg("failed to clear readiness bit")
			return
		}
		w.logger.Info().Str("node_id", string(w.self)).Msg("cleared CQL ready")
	}
	w.wasUp = isUp
}
