package grpcrpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content subtype of raw frames.
const codecName = "callcore-raw"

// Frame is an opaque serialized message. The serializer that produced it is
// named in the rpc-content-type metadata.
type Frame struct {
	Data []byte
}

// rawCodec passes frames through untouched.
type rawCodec struct{}

func (rawCodec) Name() string { return codecName }

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("%s - cannot marshal %T", codecName, v)
	}
	return f.Data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("%s - cannot unmarshal into %T", codecName, v)
	}
	f.Data = append(f.Data[:0], data...)
	return nil
}

func init() {
	encoding.RegisterCodec(rawCodec{})
}
