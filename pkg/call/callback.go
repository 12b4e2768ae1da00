package call

import (
	"fmt"
	"log/slog"
)

const callbackLogPrefix = "call:callback"

// Outcome is delivered once to the Callback of an asynchronous invocation.
// Err is nil on success. On failure Err is set and Result holds whatever
// the invocation produced, which may be nil.
type Outcome struct {
	ServiceID string
	Method    string
	Params    *Parameters
	Token     any
	Result    *Result
	Err       error
}

// Succeeded reports whether the outcome is the success variant.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Callback receives the outcome of an asynchronous invocation. It runs on a
// pool worker goroutine.
type Callback func(Outcome)

func newOutcome(serviceID, method string, params *Parameters, token any, res *Result) Outcome {
	o := Outcome{
		ServiceID: serviceID,
		Method:    method,
		Params:    params,
		Token:     token,
		Result:    res,
	}
	if res != nil {
		o.Err = res.Err()
	}
	return o
}

func deliver(cb Callback, o Outcome) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - Callback for %s.%s panicked: %v", callbackLogPrefix, o.ServiceID, o.Method, r))
		}
	}()
	cb(o)
}
