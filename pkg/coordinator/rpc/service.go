package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// NodeServer is the server-side contract every participating node
// implements for the Coordinator RPC Surface (§4.6): four coordinator
// directed RPCs plus the follower-initiated snapshot pull.
type NodeServer interface {
	Barrier(ctx context.Context, req *BarrierRequest) (*Reply, error)
	BarrierAndDrain(ctx context.Context, req *BarrierAndDrainRequest) (*Reply, error)
	StreamRanges(ctx context.Context, req *StreamRangesRequest) (*Reply, error)
	WaitForIP(ctx context.Context, req *WaitForIPRequest) (*Reply, error)
	Cleanup(ctx context.Context, req *CleanupRequest) (*Reply, error)
	PullTopologySnapshot(ctx context.Context, req *PullTopologySnapshotRequest) (*PullTopologySnapshotReply, error)
}

// serviceName is the fully-qualified gRPC service name the hand-rolled
// ServiceDesc registers under, mirroring the "package.Service" shape
// generated proto code would use.
const serviceName = "ringtopo.coordinator.v1.NodeService"

func barrierHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(BarrierRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).Barrier(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Barrier"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).Barrier(ctx, req.(*BarrierRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func barrierAndDrainHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(BarrierAndDrainRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).BarrierAndDrain(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/BarrierAndDrain"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).BarrierAndDrain(ctx, req.(*BarrierAndDrainRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func streamRangesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(StreamRangesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).StreamRanges(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/StreamRanges"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).StreamRanges(ctx, req.(*StreamRangesRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func waitForIPHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(WaitForIPRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).WaitForIP(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/WaitForIP"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).WaitForIP(ctx, req.(*WaitForIPRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func cleanupHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CleanupRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).Cleanup(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Cleanup"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).Cleanup(ctx, req.(*CleanupRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func pullTopologySnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(PullTopologySnapshotRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).PullTopologySnapshot(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/PullTopologySnapshot"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).PullTopologySnapshot(ctx, req.(*PullTopologySnapshotRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the hand-rolled equivalent of a protoc-generated
// _grpc.pb.go ServiceDesc, wired to the methods above instead of
// generated unmarshal shims.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*NodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Barrier", Handler: barrierHandler},
		{MethodName: "BarrierAndDrain", Handler: barrierAndDrainHandler},
		{MethodName: "StreamRanges", Handler: streamRangesHandler},
		{MethodName: "WaitForIP", Handler: waitForIPHandler},
		{MethodName: "Cleanup", Handler: cleanupHandler},
		{MethodName: "PullTopologySnapshot", Handler: pullTopologySnapshotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/coordinator/rpc/service.go",
}

// RegisterNodeServer registers srv against s under ServiceDesc, the
// hand-rolled stand-in for a generated RegisterXServer function.
func RegisterNodeServer(s grpc.ServiceRegistrar, srv NodeServer) {
	s.RegisterService(&ServiceDesc, srv)
}
