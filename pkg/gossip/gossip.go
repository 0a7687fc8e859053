// Package gossip defines the narrow collaborator interfaces the core
// consumes for liveness/application-state gossip and address discovery
// (§6), plus the Readiness Publisher (§4.7) built on top of them. The
// gossip layer itself — membership, failure detection, anti-entropy —
// is explicitly out of scope (§1): no complete example repo in this
// codebase's lineage wires a gossip/membership library, so rather than
// invent one, the core only ever talks to the small surface below.
package gossip

import "github.com/ringtopo/ringtopo/pkg/topology"

// Gossip is the external gossip collaborator contract from §6:
// set_application_state / address_of.
type Gossip interface {
	// SetApplicationState publishes a key/value pair for this node into
	// the gossip layer, to be observed cluster-wide on next anti-entropy
	// round. Used by the Readiness Publisher to set and clear the
	// "CQL ready" bit.
	SetApplicationState(key, value string) error

	// AddressOf returns the known IP of a node, if gossip has one.
	AddressOf(id topology.NodeID) (string, bool)
}

// AddressMap is the narrower contract §6 calls out separately for
// wait_for_ip: just containment, since that RPC only needs to know
// whether an address has appeared yet, not what it is.
type AddressMap interface {
	Contains(id topology.NodeID) bool
}

const readinessKey = "cql_ready"

// ReadinessPublisher is the thin adapter over Gossip described in
// §4.7: Publish sets the bit for a node in normal, Clear unsets it.
// Its caller, Watcher, clears the bit only after it observes that the
// node has left normal_nodes; nothing clears it ahead of the transition.
type ReadinessPublisher struct {
	gossip Gossip
}

// NewReadinessPublisher returns a publisher backed by the given gossip
// collaborator.
func NewReadinessPublisher(gossip Gossip) *ReadinessPublisher {
	return &ReadinessPublisher{gossip: gossip}
}

// Publish sets the ready bit for a node that has just reached normal.
func (p *ReadinessPublisher) Publish(id topology.NodeID) error {
	return p.gossip.SetApplicationState(readinessKey, string(id)+":true")
}

// Clear unsets the ready bit for a node that is no longer normal.
func (p *ReadinessPublisher) Clear(id topology.NodeID) error {
	return p.gossip.SetApplicationState(readinessKey, string(id)+":false")
}
