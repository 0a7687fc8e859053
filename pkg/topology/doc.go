/*
Package topology is the replicated data structure at the heart of a
ringtopo cluster: which nodes exist, what role each plays in the token
ring, and which cluster-wide reconfiguration (if any) is currently in
progress.

The package is intentionally inert. A *Topology is plain data plus
side-effect-free query methods (Find, Contains, IsBusy, ExcludedNodes,
NotYetEnabledFeatures, ...); every mutation is applied elsewhere, by the
raft-backed Applier in pkg/manager, so that the full mutation history is
always exactly the committed consensus log. Nothing in this package talks
to the network, the clock, or disk.

# Node lifecycle

A node enters as NodeStateNone in NewNodes when it first joins consensus,
moves through operation-specific transition states under the
coordinator's control, and ends either in NormalNodes (successful
join/replace/rebuild) or LeftNodes (successful leave/remove). A failed
leave/remove rolls the node back to NormalNodes via
NodeStateRollbackToNormal.

# Invariants

CheckInvariants enforces the closed set of properties every committed
log entry must leave true; see invariants.go for the full list. A violation is a programming bug, not a recoverable runtime
condition — callers are expected to treat it as fatal.
*/
package topology
