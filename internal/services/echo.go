// Package services holds the built-in services a callcore server exposes.
package services

import (
	"context"
	"time"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/dispatcher"
)

// EchoID is the id of the echo service.
const EchoID = "echo"

const maxSleep = 5 * time.Minute

// Echo returns the echo service:
//
//	echo   returns the parameters as given
//	sleep  waits "duration" (e.g. "250ms", or milliseconds) and returns it
//	fail   fails with "code" (default INVOCATION_FAILED) and "message"
func Echo() dispatcher.Service {
	return dispatcher.Service{
		ID:      EchoID,
		Version: "1.0.0",
		Methods: dispatcher.Methods{
			"echo":  echo,
			"sleep": sleep,
			"fail":  fail,
		},
	}
}

func echo(_ context.Context, p *call.Parameters) (any, error) {
	return p.Values(), nil
}

func sleep(ctx context.Context, p *call.Parameters) (any, error) {
	d := p.GetDuration("duration", 0)
	if d < 0 || d > maxSleep {
		return nil, call.Errorf(call.CodeInvalidArgument, "duration must be within [0, %s]", maxSleep)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]any{"slept": d.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func fail(_ context.Context, p *call.Parameters) (any, error) {
	e := call.NewError(p.GetString("code", call.CodeInvocationFailed), p.GetString("message", "requested failure"))
	if v, ok := p.Get("details"); ok {
		e.Details = v
	}
	return nil, e
}
