// Package adminrpc exposes the Timekeeper's out-of-band sweep control as a
// gRPC service. Messages are plain Go structs carried over a JSON wire codec
// registered through grpc-go's codec registry, so the service needs no
// protoc-generated stubs.
package adminrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content-subtype clients select via
// grpc.CallContentSubtype(codecName) to use jsonCodec on the wire
// (negotiated as "application/grpc+json").
const codecName = "json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec by marshaling
// request/response structs as JSON rather than protobuf wire format.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
