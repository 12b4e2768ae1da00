package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/callcore/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// GlobalSubject overrides the global completion subject.
	GlobalSubject string
	// SkipGranular disables the per service and method subject.
	SkipGranular bool
}

// CommsPublisher publishes invocation events to COMMS subjects.
type CommsPublisher struct {
	nc            *comms.Conn
	globalSubject string
	granular      bool
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{nc: nc, globalSubject: commsutil.SubjectCompletedEvents, granular: true}
	if opts != nil {
		if opts.GlobalSubject != "" {
			p.globalSubject = opts.GlobalSubject
		}
		p.granular = !opts.SkipGranular
	}
	return p
}

// PublishCompleted publishes the event to the granular subject
// rpc.completed.<service>.<method> and to the global subject.
func (p *CommsPublisher) PublishCompleted(_ context.Context, event *InvocationCompletedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	if p.granular {
		granularSubject := commsutil.BuildCompletedSubject(event.Service, event.Method)
		if err := p.nc.Publish(granularSubject, data); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, granularSubject, err))
			return err
		}
	}

	if err := p.nc.Publish(p.globalSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.globalSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published completion of %s.%s", commsPublisherLogPrefix, event.Service, event.Method))
	return nil
}
