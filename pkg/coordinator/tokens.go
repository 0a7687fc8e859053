package coordinator

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"

	"github.com/ringtopo/ringtopo/pkg/topology"
)

// TokenAllocator is the external collaborator that chooses ring
// positions for a joining node; §1 is explicit that "the core does not
// choose tokens for a joining node (that is an input); it only commits
// them." This interface exists so a real partitioner-aware allocator can
// be swapped in without touching the coordinator's transition logic.
type TokenAllocator interface {
	Allocate(id topology.NodeID, count int) topology.RingSlice
}

// hashTokenAllocator is the default TokenAllocator used when none is
// configured: deterministic, evenly-distributed-in-expectation tokens
// derived from hashing (node id, index). It makes no attempt at the real
// partitioner's load-aware placement (datacenter/rack topology, existing
// ring density) — that logic belongs to the ring/token vocabulary this
// repo only borrows the shape of (see DESIGN.md's kickboxerdb grounding
// note), not the core's concern per §1.
type hashTokenAllocator struct{}

// NewHashTokenAllocator returns the default deterministic allocator.
func NewHashTokenAllocator() TokenAllocator {
	return hashTokenAllocator{}
}

func (hashTokenAllocator) Allocate(id topology.NodeID, count int) topology.RingSlice {
	tokens := make([]topology.Token, count)
	for i := 0; i < count; i++ {
		h := sha256.Sum256([]byte(string(id) + ":" + strconv.Itoa(i)))
		tokens[i] = topology.Token(binary.BigEndian.Uint64(h[:8]))
	}
	return topology.RingSlice{Tokens: tokens}
}
