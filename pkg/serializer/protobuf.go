package serializer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const ProtobufName = "protobuf"

// Protobuf frames values as binary google.protobuf.Value messages. Values
// pass through their JSON form first, so custom JSON marshalers apply and
// all numbers arrive as float64.
type Protobuf struct{}

func NewProtobuf() *Protobuf { return &Protobuf{} }

func (*Protobuf) Name() string        { return ProtobufName }
func (*Protobuf) ContentType() string { return "application/x-protobuf" }

func (*Protobuf) Encode(ctx context.Context, w io.Writer, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s - protobuf encode: %w", logPrefix, err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("%s - protobuf encode: %w", logPrefix, err)
	}
	value, err := structpb.NewValue(generic)
	if err != nil {
		return fmt.Errorf("%s - protobuf encode: %w", logPrefix, err)
	}
	frame, err := proto.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s - protobuf encode: %w", logPrefix, err)
	}
	_, err = w.Write(frame)
	return err
}

func (*Protobuf) Decode(ctx context.Context, r io.Reader, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%s - protobuf decode: %w", logPrefix, err)
	}
	if len(frame) == 0 {
		return io.EOF
	}
	var value structpb.Value
	if err := proto.Unmarshal(frame, &value); err != nil {
		return fmt.Errorf("%s - protobuf decode: %w", logPrefix, err)
	}
	data, err := json.Marshal(value.AsInterface())
	if err != nil {
		return fmt.Errorf("%s - protobuf decode: %w", logPrefix, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s - protobuf decode: %w", logPrefix, err)
	}
	return nil
}
