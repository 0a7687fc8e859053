package manager

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	rtlog "github.com/ringtopo/ringtopo/pkg/log"
	"github.com/ringtopo/ringtopo/pkg/metrics"
	"github.com/ringtopo/ringtopo/pkg/storage"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

// Manager owns the Raft consensus handle, the Applier, and the
// BoltDB-backed storage.Store for a single replica. It is the
// consensus-facing half of the node; the Topology Coordinator (§4.5)
// drives it from the leader side.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft    *raft.Raft
	applier *Applier
	store   storage.Store
	fencing *FencingRegistry
}

// Config holds construction parameters for a Manager.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager constructs a Manager, opening its BoltDB store and
// restoring whatever Topology was last durably persisted (the Applier
// itself gets its authoritative state by replaying the Raft log on
// top of this after Bootstrap/Join runs).
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}

	initial, err := store.LoadTopology()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load persisted topology: %w", err)
	}

	applier := NewApplier(initial)

	m := &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		applier:  applier,
		store:    store,
		fencing:  NewFencingRegistry(applier),
	}

	return m, nil
}

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// Tuned for LAN/edge deployments rather than Raft's WAN-conservative
	// defaults, aiming for sub-10s failover.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (m *Manager) newRaft() (*raft.Raft, error) {
	config := raftConfig(m.nodeID)

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create stable store: %w", err)
	}

	return raft.NewRaft(config, m.applier, logStore, stableStore, snapshotStore, transport)
}

// Bootstrap initializes a new single-node Raft cluster rooted at this
// Manager.
func (m *Manager) Bootstrap() error {
	r, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(m.nodeID), Address: raft.ServerAddress(m.bindAddr)},
		},
	}
	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}
	return nil
}

// Join starts this Manager's Raft instance without bootstrapping a new
// cluster; the caller is expected to have already asked the leader to
// AddVoter this node (e.g. via the gossip-driven join flow), so once
// the leader's configuration change is committed this instance begins
// participating.
func (m *Manager) Join() error {
	r, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r
	return nil
}

// AddVoter adds a new node to the Raft cluster configuration. Only the
// leader may call this successfully.
func (m *Manager) AddVoter(nodeID topology.NodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("%w: leader is %s", topology.ErrNotLeader, m.LeaderAddr())
	}
	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// RemoveServer removes a node from the Raft cluster configuration,
// called once the topology Applier has moved the node to left_nodes.
func (m *Manager) RemoveServer(nodeID topology.NodeID) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("%w: leader is %s", topology.ErrNotLeader, m.LeaderAddr())
	}
	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	return future.Error()
}

// IsLeader reports whether this Manager's Raft instance is currently
// the cluster leader.
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current Raft leader, or
// "" if unknown.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// RaftStats returns a snapshot of Raft internals, polled by the metrics
// Collector (pkg/metrics) for the Raft gauges.
func (m *Manager) RaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}
	stats := map[string]interface{}{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
	}
	if cf := m.raft.GetConfiguration(); cf.Error() == nil {
		stats["peers"] = uint64(len(cf.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}
	return stats
}

// Topology returns a deep copy of the currently applied Topology.
func (m *Manager) Topology() *topology.Topology {
	return m.applier.Topology()
}

// Fencing returns the Manager's Fencing Registry.
func (m *Manager) Fencing() *FencingRegistry {
	return m.fencing
}

// Store returns the Manager's persisted-state store, so the coordinator
// can write topology_requests rows on acceptance/terminal outcome (§4.5
// Failure semantics, §6).
func (m *Manager) Store() storage.Store {
	return m.store
}

// SnapshotBundle assembles the three canonical mutation sets a follower
// pulls via pull_topology_snapshot (§4.6): the topology row(s), the
// cdc_generations rows, and the topology_requests rows. This is served
// off the persisted store rather than the in-memory Applier so a
// follower can request it before it has finished replaying the log
// locally.
func (m *Manager) SnapshotBundle() (*topology.Topology, map[uuid.UUID][]storage.CDCGenerationRange, []storage.RequestStatus, error) {
	t, err := m.store.LoadTopology()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load topology for snapshot: %w", err)
	}
	generations, err := m.store.ListCDCGenerations()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list cdc generations for snapshot: %w", err)
	}
	requests, err := m.store.ListRequestStatuses()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list request statuses for snapshot: %w", err)
	}
	return t, generations, requests, nil
}

// NodeID returns this replica's node identifier.
func (m *Manager) NodeID() topology.NodeID {
	return topology.NodeID(m.nodeID)
}

// Apply submits cmd to the consensus log and blocks until it commits,
// persisting the resulting Topology to the store and refreshing the
// Fencing Registry before returning. Persistence happening here, after
// commit, rather than inside the Applier, is what keeps the Applier
// itself free of I/O.
func (m *Manager) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	m.fencing.Refresh()
	if err := m.store.SaveTopology(m.applier.Topology()); err != nil {
		rtlog.WithComponent("manager").Warn().Err(err).Msg("failed to persist topology after commit")
	}
	return nil
}

// Shutdown stops Raft and closes the store.
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	return nil
}
