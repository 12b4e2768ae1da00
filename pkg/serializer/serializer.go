// Package serializer defines the wire encoding boundary of the invocation
// core: transports decode Parameters and encode Results through a
// Serializer chosen by name.
package serializer

import (
	"bytes"
	"context"
	"io"
	"mime"
	"strings"

	"github.com/morezero/callcore/pkg/component"
)

const logPrefix = "serializer:serializer"

// Default is the name of the serializer used when none is configured.
const Default = JSONName

// Serializer converts values to and from a wire format. Implementations
// must be safe for concurrent use.
type Serializer interface {
	Name() string
	ContentType() string
	Encode(ctx context.Context, w io.Writer, v any) error
	Decode(ctx context.Context, r io.Reader, v any) error
}

// Marshal encodes v into a byte slice.
func Marshal(ctx context.Context, s Serializer, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Encode(ctx, &buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v.
func Unmarshal(ctx context.Context, s Serializer, data []byte, v any) error {
	return s.Decode(ctx, bytes.NewReader(data), v)
}

// NewRegistry returns a registry with the built-in serializers.
func NewRegistry() *component.Registry[Serializer] {
	r := component.NewRegistry[Serializer]("serializer")
	r.Register(JSONName, func(component.Props) (Serializer, error) {
		return NewJSON(), nil
	})
	r.Register(ProtobufName, func(component.Props) (Serializer, error) {
		return NewProtobuf(), nil
	})
	return r
}

// ForContentType returns the candidate whose content type matches ct, or
// fallback when none does.
func ForContentType(ct string, fallback Serializer, candidates ...Serializer) Serializer {
	if ct == "" {
		return fallback
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return fallback
	}
	for _, s := range candidates {
		if strings.EqualFold(s.ContentType(), mediaType) {
			return s
		}
	}
	return fallback
}
