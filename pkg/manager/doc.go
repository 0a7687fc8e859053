/*
Package manager wires the Topology Model to a real Raft consensus log
and owns the Fencing Registry.

# Architecture

	┌──────────────────────── MANAGER ─────────────────────────────┐
	│                                                                │
	│   Apply(cmd) ──────────────▶  raft.Raft.Apply(data)           │
	│                                      │                        │
	│                                      ▼                        │
	│                              ┌───────────────┐                │
	│                              │  Applier      │  (raft.FSM)    │
	│                              │  pkg/manager  │                │
	│                              │  /fsm.go      │                │
	│                              └──────┬────────┘                │
	│                                     │ clone/mutate/validate    │
	│                                     ▼                        │
	│                              *topology.Topology               │
	│                                     │                        │
	│                    Broadcast(cond) ─┤─ read by:               │
	│                                     │   - coordinator          │
	│                                     │   - Fencing Registry     │
	│                                     ▼                        │
	│                              storage.Store (saved per Apply)  │
	└────────────────────────────────────────────────────────────────┘

# Core Components

  - Applier (fsm.go) — the raft.FSM. Pure function of (state, entry):
    clones the current Topology, applies one committed entry (one of the
    Op kinds in fsm.go), validates every §3 invariant, and only then installs
    the clone. A failed validation is treated as a fatal programming
    bug: the process logs and exits rather than serving a corrupted
    view.

  - Manager (manager.go) — owns the *raft.Raft handle, the Applier, and
    the BoltDB-backed storage.Store. Bootstrap/Join mirror the
    consensus-cluster-formation pattern used throughout this codebase:
    TCP transport, file snapshot store, BoltDB log/stable stores.

  - FencingRegistry (fencing.go) — the per-replica last-applied
    topology_version/fence_version pair data-plane RPC handlers consult
    before honoring a request.
*/
package manager
