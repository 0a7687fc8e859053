package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodec implements encoding.Codec for the Coordinator RPC Surface
// (§4.6). The teacher's own gRPC service (pkg/api) is generated from
// api/proto, which this pack does not retrieve; rather than invent a
// protobuf schema and invoke protoc (disallowed for this exercise — see
// DESIGN.md), the four coordinator->node RPCs and the follower->leader
// snapshot pull are served as plain JSON messages over the same real
// grpc.Server/grpc.ClientConn transport, forcing this codec as the
// content-subtype instead of the default proto codec.
type jsonCodec struct{}

const codecName = "json"

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc message: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal rpc message: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
