package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/callcore/pkg/call"
)

const observerLogPrefix = "events:observer"

// EventPublisher is the interface for publishing invocation events.
type EventPublisher interface {
	PublishCompleted(ctx context.Context, event *InvocationCompletedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishCompleted is a no-op.
func (p *NoOpPublisher) PublishCompleted(_ context.Context, _ *InvocationCompletedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *InvocationCompletedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *InvocationCompletedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishCompleted calls the callback.
func (p *CallbackPublisher) PublishCompleted(ctx context.Context, event *InvocationCompletedEvent) error {
	return p.callback(ctx, event)
}

// Observer forwards call events to a publisher. Publish errors are logged
// and otherwise ignored.
type Observer struct {
	publisher EventPublisher
	failures  bool
}

// NewObserver creates an Observer. With onlyFailures set, successful
// invocations are not published.
func NewObserver(p EventPublisher, onlyFailures bool) *Observer {
	return &Observer{publisher: p, failures: onlyFailures}
}

func (o *Observer) ObserveInvocation(ev call.Event) {
	if o.failures && ev.Status == string(call.StatusOK) {
		return
	}
	if err := o.publisher.PublishCompleted(context.Background(), NewInvocationCompletedEvent(ev)); err != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to publish event for %s.%s: %v", observerLogPrefix, ev.ServiceID, ev.Method, err))
	}
}
