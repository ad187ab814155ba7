package coord

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc/encoding so channels built against
// this package negotiate it via the "content-subtype" of the RPC; no
// protoc toolchain is available in this tree, so message framing is
// plain JSON rather than protobuf wire format.
const codecName = "forge-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
