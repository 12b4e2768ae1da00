// Package transport holds what the RPC transport adapters share: the
// Servant that turns wire requests into core invocations, and the request
// envelope used by transports that carry service and method in the body.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/serializer"
)

const logPrefix = "transport:servant"

// Request is the body of transports that address service and method
// inside the payload rather than in the route or headers.
type Request struct {
	ID      string           `json:"id,omitempty"`
	Service string           `json:"service"`
	Method  string           `json:"method"`
	Params  *call.Parameters `json:"params,omitempty"`
}

// Servant adapts a call core to a transport: it decodes parameters, runs
// the invocation and stamps the responding host.
type Servant struct {
	call        *call.Call
	host        string
	serializers []serializer.Serializer
}

// NewServant creates a Servant. The first serializer is the default; the
// others are selected by content type. With no serializers JSON is used.
func NewServant(c *call.Call, host string, serializers ...serializer.Serializer) *Servant {
	if len(serializers) == 0 {
		serializers = []serializer.Serializer{serializer.NewJSON()}
	}
	return &Servant{call: c, host: host, serializers: serializers}
}

// Serializer returns the serializer for a content type, or the default.
func (s *Servant) Serializer(contentType string) serializer.Serializer {
	return serializer.ForContentType(contentType, s.serializers[0], s.serializers...)
}

// Serializers returns the configured serializers, default first.
func (s *Servant) Serializers() []serializer.Serializer {
	return s.serializers
}

// DecodeParameters reads parameters from r. An empty body yields empty
// parameters.
func (s *Servant) DecodeParameters(ctx context.Context, ser serializer.Serializer, r io.Reader) (*call.Parameters, error) {
	params := call.NewParameters()
	if err := ser.Decode(ctx, r, params); err != nil {
		if errors.Is(err, io.EOF) {
			return call.NewParameters(), nil
		}
		return nil, err
	}
	return params, nil
}

// Serve decodes the parameters in body and invokes serviceID.method. Decode
// failures come back as an INVALID_ARGUMENT result.
func (s *Servant) Serve(ctx context.Context, ser serializer.Serializer, serviceID, method string, body io.Reader) *call.Result {
	params, err := s.DecodeParameters(ctx, ser, body)
	if err != nil {
		return s.badParameters(serviceID, method, err)
	}
	return s.Invoke(ctx, serviceID, method, params)
}

// ServeAsync decodes the parameters in body and schedules serviceID.method
// on the worker pool of the core. reply is called exactly once: on a pool
// worker with the invocation result, or on the calling goroutine when
// decoding or scheduling fails. A full pool is answered with a
// SCHEDULE_REJECTED result.
func (s *Servant) ServeAsync(ctx context.Context, ser serializer.Serializer, serviceID, method string, body io.Reader, reply func(*call.Result)) {
	params, err := s.DecodeParameters(ctx, ser, body)
	if err != nil {
		reply(s.badParameters(serviceID, method, err))
		return
	}
	if serviceID == "" || method == "" {
		reply(s.stamp(missingTarget()))
		return
	}
	err = s.call.InvokeAsyncCallback(ctx, serviceID, method, params, func(o call.Outcome) {
		reply(s.stamp(o.Result))
	}, nil)
	if err != nil {
		reply(s.stamp(call.FailedResult(err)))
	}
}

// Invoke runs an already decoded invocation.
func (s *Servant) Invoke(ctx context.Context, serviceID, method string, params *call.Parameters) *call.Result {
	if serviceID == "" || method == "" {
		return s.stamp(missingTarget())
	}
	return s.stamp(s.call.Invoke(ctx, serviceID, method, params))
}

func (s *Servant) badParameters(serviceID, method string, err error) *call.Result {
	slog.Debug(fmt.Sprintf("%s - Bad parameters for %s.%s: %v", logPrefix, serviceID, method, err))
	return s.stamp(call.FailedResult(&call.Error{
		Code:    call.CodeInvalidArgument,
		Message: "failed to decode parameters",
		Err:     err,
	}))
}

func missingTarget() *call.Result {
	return call.FailedResult(call.NewError(call.CodeInvalidArgument, "service and method are required"))
}

func (s *Servant) stamp(res *call.Result) *call.Result {
	if s.host == "" {
		if res.Host() == "" {
			return res.WithHost(s.call.Host())
		}
		return res
	}
	return res.WithHost(s.host)
}

// EncodeResult writes res with ser.
func (s *Servant) EncodeResult(ctx context.Context, ser serializer.Serializer, w io.Writer, res *call.Result) error {
	if err := ser.Encode(ctx, w, res); err != nil {
		return fmt.Errorf("%s - failed to encode result: %w", logPrefix, err)
	}
	return nil
}
