package filter

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/morezero/callcore/pkg/call"
)

// Trace stamps a request id and a trace id onto contexts that lack them.
// The trace id comes from the active span when there is one.
type Trace struct{}

func NewTrace() *Trace { return &Trace{} }

func (*Trace) Name() string { return TraceName }

func (*Trace) Apply(ctx context.Context, ic *call.InvokeContext) error {
	ic.SetIfAbsent(call.AttrRequestID, uuid.NewString())

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ic.SetIfAbsent(call.AttrTraceID, sc.TraceID().String())
		return nil
	}
	ic.SetIfAbsent(call.AttrTraceID, strings.ReplaceAll(uuid.NewString(), "-", ""))
	return nil
}
