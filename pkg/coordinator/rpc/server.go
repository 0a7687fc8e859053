package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ringtopo/ringtopo/pkg/gossip"
	"github.com/ringtopo/ringtopo/pkg/storage"
	"github.com/ringtopo/ringtopo/pkg/streaming"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

// VersionWaiter is the narrow slice of manager.FencingRegistry the
// server side of the Coordinator RPC Surface needs: block until a given
// topology_version has been locally applied. Declared here rather than
// importing pkg/manager directly so this package's only dependency
// stays on the data types (topology, storage, streaming, gossip), not on
// manager's Raft wiring.
type VersionWaiter interface {
	Check(ctx context.Context, token uint64, wait time.Duration) error
}

// SnapshotSource is the narrow slice of manager.Manager needed to answer
// pull_topology_snapshot (§4.6).
type SnapshotSource interface {
	SnapshotBundle() (*topology.Topology, map[uuid.UUID][]storage.CDCGenerationRange, []storage.RequestStatus, error)
}

// CleanupRunner performs the node-local work of a cluster-wide cleanup
// pass. The actual compaction/storage-reclaim engine is out of scope
// (§1); ServerConfig.Cleanup defaults to a no-op that simply reports
// success, matching a node with nothing queued to clean.
type CleanupRunner interface {
	RunCleanup(ctx context.Context) error
}

type noopCleanup struct{}

func (noopCleanup) RunCleanup(ctx context.Context) error { return nil }

// ServerConfig wires a Server to the local node's collaborators.
type ServerConfig struct {
	Fencing    VersionWaiter
	Streaming  streaming.Streaming
	Addresses  gossip.AddressMap
	Snapshot   SnapshotSource
	Cleanup    CleanupRunner
	WaitBudget time.Duration
}

// Server implements NodeServer (§4.6): the node-local handler for the
// four coordinator-directed RPCs plus the follower-initiated snapshot
// pull. One Server runs per replica, registered against that replica's
// grpc.Server under ServiceDesc.
type Server struct {
	fencing    VersionWaiter
	streaming  streaming.Streaming
	addresses  gossip.AddressMap
	snapshot   SnapshotSource
	cleanup    CleanupRunner
	waitBudget time.Duration
}

// NewServer constructs a Server from cfg, defaulting Cleanup to a no-op
// and WaitBudget to 30s if unset.
func NewServer(cfg ServerConfig) *Server {
	cleanup := cfg.Cleanup
	if cleanup == nil {
		cleanup = noopCleanup{}
	}
	wait := cfg.WaitBudget
	if wait <= 0 {
		wait = 30 * time.Second
	}
	return &Server{
		fencing:    cfg.Fencing,
		streaming:  cfg.Streaming,
		addresses:  cfg.Addresses,
		snapshot:   cfg.Snapshot,
		cleanup:    cleanup,
		waitBudget: wait,
	}
}

// Barrier waits until this replica's Applier has reached
// req.TopologyVersion, then acknowledges.
func (s *Server) Barrier(ctx context.Context, req *BarrierRequest) (*Reply, error) {
	if err := s.fencing.Check(ctx, req.TopologyVersion, s.waitBudget); err != nil {
		return &Reply{Success: false, Reason: err.Error()}, nil
	}
	return &Reply{Success: true}, nil
}

// BarrierAndDrain is Barrier plus rejecting new data-plane operations at
// the old fence_version while waiting for in-flight ones to finish. The
// data-plane request handler itself is an out-of-scope collaborator
// (§1); what this core can and does guarantee is the wait for
// TopologyVersion, which is the half of barrier_and_drain that actually
// gates the coordinator's progress.
func (s *Server) BarrierAndDrain(ctx context.Context, req *BarrierAndDrainRequest) (*Reply, error) {
	if err := s.fencing.Check(ctx, req.TopologyVersion, s.waitBudget); err != nil {
		return &Reply{Success: false, Reason: err.Error()}, nil
	}
	return &Reply{Success: true}, nil
}

// StreamRanges drives the local Streaming collaborator to move the
// ranges described by req, blocking until it completes.
func (s *Server) StreamRanges(ctx context.Context, req *StreamRangesRequest) (*Reply, error) {
	plan := streaming.Plan{
		NodeID:    req.NodeID,
		Direction: streaming.Direction(req.Direction),
		Ranges:    req.Ranges,
		Peers:     req.Peers,
		SessionID: req.SessionID,
	}
	if err := s.streaming.Stream(ctx, plan); err != nil {
		return &Reply{Success: false, Reason: err.Error()}, nil
	}
	return &Reply{Success: true}, nil
}

// WaitForIP blocks until req.JoiningID has a known address in the
// address map, polling on a short fixed interval bounded by the
// server's overall wait budget.
func (s *Server) WaitForIP(ctx context.Context, req *WaitForIPRequest) (*Reply, error) {
	if s.addresses.Contains(req.JoiningID) {
		return &Reply{Success: true}, nil
	}
	deadline := time.Now().Add(s.waitBudget)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.addresses.Contains(req.JoiningID) {
				return &Reply{Success: true}, nil
			}
			if time.Now().After(deadline) {
				return &Reply{Success: false, Reason: fmt.Sprintf("no address for %s within budget", req.JoiningID)}, nil
			}
		case <-ctx.Done():
			return &Reply{Success: false, Reason: ctx.Err().Error()}, nil
		}
	}
}

// Cleanup runs the node-local cleanup pass and acknowledges once done.
func (s *Server) Cleanup(ctx context.Context, req *CleanupRequest) (*Reply, error) {
	if err := s.cleanup.RunCleanup(ctx); err != nil {
		return &Reply{Success: false, Reason: err.Error()}, nil
	}
	return &Reply{Success: true}, nil
}

// PullTopologySnapshot assembles and returns the three canonical
// mutation sets a follower needs after log truncation or first boot.
func (s *Server) PullTopologySnapshot(ctx context.Context, req *PullTopologySnapshotRequest) (*PullTopologySnapshotReply, error) {
	t, generations, requests, err := s.snapshot.SnapshotBundle()
	if err != nil {
		return nil, fmt.Errorf("assemble snapshot bundle: %w", err)
	}

	var genMutations []CDCGenerationMutation
	for genID, ranges := range generations {
		for _, r := range ranges {
			genMutations = append(genMutations, CDCGenerationMutation{
				GenerationID: genID,
				StartToken:   r.StartToken,
				EndToken:     r.EndToken,
				Data:         r.Data,
			})
		}
	}

	reqMutations := make([]RequestStatusMutation, 0, len(requests))
	for _, r := range requests {
		reqMutations = append(reqMutations, RequestStatusMutation{
			RequestID: r.RequestID,
			Done:      r.Done,
			Error:     r.Error,
		})
	}

	return &PullTopologySnapshotReply{
		Topology:         t,
		CDCGenerations:   genMutations,
		TopologyRequests: reqMutations,
	}, nil
}

var _ NodeServer = (*Server)(nil)
