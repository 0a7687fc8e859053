package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the coordinator-side handle to one participating node's
// NodeService, used for the four coordinator->node RPCs the Topology
// Coordinator issues (§4.5/§4.6). Transport security (mTLS cluster
// identity) is the consensus log replication layer's concern per §1 and
// is not wired here; see DESIGN.md for the teacher deps dropped as a
// result.
type Client struct {
	conn *grpc.ClientConn
	addr string
}

// Dial opens a connection to a node's RPC listener, forcing the JSON
// codec this package registers in place of protobuf.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, addr: addr}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, reply interface{}) error {
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, reply)
}

// Barrier invokes the barrier RPC.
func (c *Client) Barrier(ctx context.Context, req *BarrierRequest) (*Reply, error) {
	reply := new(Reply)
	if err := c.invoke(ctx, "Barrier", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// BarrierAndDrain invokes the barrier_and_drain RPC.
func (c *Client) BarrierAndDrain(ctx context.Context, req *BarrierAndDrainRequest) (*Reply, error) {
	reply := new(Reply)
	if err := c.invoke(ctx, "BarrierAndDrain", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// StreamRanges invokes the stream_ranges RPC.
func (c *Client) StreamRanges(ctx context.Context, req *StreamRangesRequest) (*Reply, error) {
	reply := new(Reply)
	if err := c.invoke(ctx, "StreamRanges", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// WaitForIP invokes the wait_for_ip RPC.
func (c *Client) WaitForIP(ctx context.Context, req *WaitForIPRequest) (*Reply, error) {
	reply := new(Reply)
	if err := c.invoke(ctx, "WaitForIP", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Cleanup invokes the cleanup RPC.
func (c *Client) Cleanup(ctx context.Context, req *CleanupRequest) (*Reply, error) {
	reply := new(Reply)
	if err := c.invoke(ctx, "Cleanup", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// PullTopologySnapshot invokes the follower->leader snapshot pull.
func (c *Client) PullTopologySnapshot(ctx context.Context, req *PullTopologySnapshotRequest) (*PullTopologySnapshotReply, error) {
	reply := new(PullTopologySnapshotReply)
	if err := c.invoke(ctx, "PullTopologySnapshot", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Dialer returns a NodeClient for a dialable address, letting the coordinator avoid holding long-lived connections
// to nodes it rarely talks to.
type Dialer interface {
	Dial(ctx context.Context, addr string) (NodeClient, error)
}

// NodeClient is the subset of Client the coordinator depends on,
// narrowed to an interface so tests can substitute an in-memory fake
// instead of a real gRPC connection.
type NodeClient interface {
	Barrier(ctx context.Context, req *BarrierRequest) (*Reply, error)
	BarrierAndDrain(ctx context.Context, req *BarrierAndDrainRequest) (*Reply, error)
	StreamRanges(ctx context.Context, req *StreamRangesRequest) (*Reply, error)
	WaitForIP(ctx context.Context, req *WaitForIPRequest) (*Reply, error)
	Cleanup(ctx context.Context, req *CleanupRequest) (*Reply, error)
	PullTopologySnapshot(ctx context.Context, req *PullTopologySnapshotRequest) (*PullTopologySnapshotReply, error)
	Close() error
}

// GRPCDialer dials real NodeService connections over the network.
type GRPCDialer struct{}

// Dial implements Dialer.
func (GRPCDialer) Dial(ctx context.Context, addr string) (NodeClient, error) {
	return Dial(addr)
}
