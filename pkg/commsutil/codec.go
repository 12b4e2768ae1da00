package commsutil

import (
	"bytes"
	"context"
	"fmt"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/callcore/pkg/serializer"
)

const codecLogPrefix = "commsutil:codec"

// EncodeMsg serializes v into a new message for subject and records the
// content type in the message headers.
func EncodeMsg(ctx context.Context, s serializer.Serializer, subject string, v any) (*comms.Msg, error) {
	data, err := serializer.Marshal(ctx, s, v)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode %s message: %w", codecLogPrefix, subject, err)
	}
	msg := comms.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderContentType, s.ContentType())
	return msg, nil
}

// DecodeMsg deserializes msg into v. The serializer is chosen from the
// message content type among candidates, falling back to fallback.
func DecodeMsg(ctx context.Context, msg *comms.Msg, v any, fallback serializer.Serializer, candidates ...serializer.Serializer) error {
	ct := ""
	if msg.Header != nil {
		ct = msg.Header.Get(HeaderContentType)
	}
	s := serializer.ForContentType(ct, fallback, candidates...)
	if err := s.Decode(ctx, bytes.NewReader(msg.Data), v); err != nil {
		return fmt.Errorf("%s - failed to decode %s message: %w", codecLogPrefix, msg.Subject, err)
	}
	return nil
}
