package rpc

import (
	"context"
	"fmt"
	"sync"
)

// LocalRegistry is an in-process Dialer that maps addresses directly to
// registered NodeServer implementations instead of opening a real
// connection, the same "no real transport" shortcut gossip.Hub uses for
// its collaborator doubles. It lets a single process simulate the full
// barrier/stream/snapshot RPC surface for tests and small demo clusters
// without binding any listeners.
type LocalRegistry struct {
	mu      sync.RWMutex
	servers map[string]NodeServer
}

// NewLocalRegistry returns an empty in-process node registry.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{servers: make(map[string]NodeServer)}
}

// Register associates addr with srv, so a later Dial(ctx, addr) reaches
// it directly.
func (r *LocalRegistry) Register(addr string, srv NodeServer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[addr] = srv
}

// Unregister removes addr, simulating a node going permanently offline.
func (r *LocalRegistry) Unregister(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, addr)
}

// Dial implements Dialer by looking addr up in the registry rather than
// opening a socket.
func (r *LocalRegistry) Dial(ctx context.Context, addr string) (NodeClient, error) {
	r.mu.RLock()
	srv, ok := r.servers[addr]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("local registry: no server registered at %s", addr)
	}
	return &localClient{srv: srv}, nil
}

// localClient implements NodeClient by calling directly into a
// registered NodeServer, skipping marshaling entirely.
type localClient struct {
	srv NodeServer
}

func (c *localClient) Barrier(ctx context.Context, req *BarrierRequest) (*Reply, error) {
	return c.srv.Barrier(ctx, req)
}

func (c *localClient) BarrierAndDrain(ctx context.Context, req *BarrierAndDrainRequest) (*Reply, error) {
	return c.srv.BarrierAndDrain(ctx, req)
}

func (c *localClient) StreamRanges(ctx context.Context, req *StreamRangesRequest) (*Reply, error) {
	return c.srv.StreamRanges(ctx, req)
}

func (c *localClient) WaitForIP(ctx context.Context, req *WaitForIPRequest) (*Reply, error) {
	return c.srv.WaitForIP(ctx, req)
}

func (c *localClient) Cleanup(ctx context.Context, req *CleanupRequest) (*Reply, error) {
	return c.srv.Cleanup(ctx, req)
}

func (c *localClient) PullTopologySnapshot(ctx context.Context, req *PullTopologySnapshotRequest) (*PullTopologySnapshotReply, error) {
	return c.srv.PullTopologySnapshot(ctx, req)
}

func (c *localClient) Close() error {
	return nil
}
