package gossip

import (
	"sync"

	"github.com/ringtopo/ringtopo/pkg/topology"
)

// Hub is a process-local, shared gossip fabric: every simulated node's
// address and application-state gets recorded into one shared map,
// visible to every other node's view of it, the same way real gossip
// eventually converges cluster-wide. It backs both the AddressMap
// collaborator and the per-node Gossip views handed to the Readiness
// Publisher in tests.
//
// Grounded on events.Broker's map-plus-RWMutex shape (pkg/events), with
// subscriber fan-out replaced by flat key/value storage since gossip's
// contract here is state convergence, not pub/sub delivery.
type Hub struct {
	mu        sync.RWMutex
	state     map[topology.NodeID]map[string]string
	addresses map[topology.NodeID]string
}

// NewHub returns an empty in-memory gossip fabric.
func NewHub() *Hub {
	return &Hub{
		state:     make(map[topology.NodeID]map[string]string),
		addresses: make(map[topology.NodeID]string),
	}
}

// AddressOf implements Gossip/AddressMap's address lookup.
func (h *Hub) AddressOf(id topology.NodeID) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	addr, ok := h.addresses[id]
	return addr, ok
}

// Contains implements AddressMap.
func (h *Hub) Contains(id topology.NodeID) bool {
	_, ok := h.AddressOf(id)
	return ok
}

// SetAddress registers id's address, simulating gossip having
// converged on it. Tests use this to simulate wait_for_ip succeeding.
func (h *Hub) SetAddress(id topology.NodeID, addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addresses[id] = addr
}

// StateOf returns the application-state key/value pairs a node has
// published, for test assertions against the Readiness Publisher.
func (h *Hub) StateOf(id topology.NodeID) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.state[id]))
	for k, v := range h.state[id] {
		out[k] = v
	}
	return out
}

func (h *Hub) setApplicationState(id topology.NodeID, key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state[id] == nil {
		h.state[id] = make(map[string]string)
	}
	h.state[id][key] = value
}

// View returns the Gossip implementation a single node uses to publish
// its own application state and look up peers through the shared hub.
func (h *Hub) View(self topology.NodeID) Gossip {
	return &nodeView{hub: h, self: self}
}

// nodeView implements Gossip for one node against a shared Hub.
type nodeView struct {
	hub  *Hub
	self topology.NodeID
}

func (v *nodeView) SetApplicationState(key, value string) error {
	v.hub.setApplicationState(v.self, key, value)
	return nil
}

func (v *nodeView) AddressOf(id topology.NodeID) (string, bool) {
	return v.hub.AddressOf(id)
}
