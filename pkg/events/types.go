// Package events publishes invocation completion events so that other
// processes can follow what a core is doing.
package events

import (
	"time"

	"github.com/morezero/callcore/pkg/call"
)

// InvocationCompletedEvent is emitted when an invocation finishes or the
// async pool refuses it.
type InvocationCompletedEvent struct {
	ID         string  `json:"id"`
	Service    string  `json:"service"`
	Method     string  `json:"method"`
	Mode       string  `json:"mode"`
	Status     string  `json:"status"`
	Code       string  `json:"code,omitempty"`
	Error      string  `json:"error,omitempty"`
	Host       string  `json:"host,omitempty"`
	DurationMs float64 `json:"durationMs"`
	Timestamp  string  `json:"timestamp"`
}

// NewInvocationCompletedEvent builds the event for ev.
func NewInvocationCompletedEvent(ev call.Event) *InvocationCompletedEvent {
	out := &InvocationCompletedEvent{
		ID:         ev.ID,
		Service:    ev.ServiceID,
		Method:     ev.Method,
		Mode:       string(ev.Mode),
		Status:     ev.Status,
		Code:       ev.Code,
		Host:       ev.Host,
		DurationMs: float64(ev.Duration.Microseconds()) / 1000,
		Timestamp:  ev.Started.Add(ev.Duration).UTC().Format(time.RFC3339Nano),
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}
