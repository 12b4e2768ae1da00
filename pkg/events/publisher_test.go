package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/morezero/callcore/pkg/call"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	err := pub.PublishCompleted(context.Background(), &InvocationCompletedEvent{Service: "echo", Method: "echo"})
	if err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *InvocationCompletedEvent

	pub := NewCallbackPublisher(func(_ context.Context, event *InvocationCompletedEvent) error {
		captured = event
		return nil
	})

	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := call.Event{
		ID:        "id-1",
		ServiceID: "echo",
		Method:    "fail",
		Mode:      call.ModeCallback,
		Status:    string(call.StatusFailed),
		Code:      call.CodeInvocationFailed,
		Started:   started,
		Duration:  250 * time.Millisecond,
		Err:       errors.New("boom"),
	}
	NewObserver(pub, false).ObserveInvocation(ev)

	if captured == nil {
		t.Fatal("events:publisher_test - expected callback to be called")
	}
	if captured.Service != "echo" || captured.Method != "fail" {
		t.Errorf("events:publisher_test - unexpected target %s.%s", captured.Service, captured.Method)
	}
	if captured.Mode != "callback" {
		t.Errorf("events:publisher_test - expected mode callback, got %s", captured.Mode)
	}
	if captured.DurationMs != 250 {
		t.Errorf("events:publisher_test - expected 250ms, got %v", captured.DurationMs)
	}
	if captured.Error != "boom" {
		t.Errorf("events:publisher_test - expected error boom, got %q", captured.Error)
	}
	if captured.Timestamp != "2025-01-01T00:00:00.25Z" {
		t.Errorf("events:publisher_test - unexpected timestamp %s", captured.Timestamp)
	}
}

func TestObserver_OnlyFailures(t *testing.T) {
	calls := 0
	pub := NewCallbackPublisher(func(context.Context, *InvocationCompletedEvent) error {
		calls++
		return errors.New("publish failed")
	})
	obs := NewObserver(pub, true)

	obs.ObserveInvocation(call.Event{Status: string(call.StatusOK)})
	obs.ObserveInvocation(call.Event{Status: string(call.StatusRejected)})
	obs.ObserveInvocation(call.Event{Status: call.StatusUnscheduled})

	if calls != 2 {
		t.Errorf("events:publisher_test - expected 2 publishes, got %d", calls)
	}
}
