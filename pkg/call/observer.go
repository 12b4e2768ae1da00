package call

import (
	"fmt"
	"log/slog"
	"time"
)

const observerLogPrefix = "call:observer"

// Mode tells how an invocation was issued.
type Mode string

const (
	ModeSync     Mode = "sync"
	ModeAsync    Mode = "async"
	ModeCallback Mode = "callback"
)

// StatusUnscheduled is the Event status of an asynchronous invocation the
// pool refused to admit.
const StatusUnscheduled = "unscheduled"

// Event describes one finished or refused invocation.
type Event struct {
	ID        string
	ServiceID string
	Method    string
	Mode      Mode
	Status    string
	Code      string
	Host      string
	Started   time.Time
	Duration  time.Duration
	Err       error
}

// Observer is notified of every Event. Implementations must be fast and
// safe for concurrent use; they run on the invoking goroutine.
type Observer interface {
	ObserveInvocation(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) ObserveInvocation(ev Event) { f(ev) }

func notifyObservers(observers []Observer, ev Event) {
	for _, o := range observers {
		notifyOne(o, ev)
	}
}

func notifyOne(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - Observer %T panicked: %v", observerLogPrefix, o, r))
		}
	}()
	o.ObserveInvocation(ev)
}
