package services

import (
	"context"
	"time"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/dispatcher"
)

// SystemID is the id of the system service.
const SystemID = "system"

// SystemDeps supplies what the system service reports on. Nil functions
// make the matching method fail with INTERNAL_ERROR.
type SystemDeps struct {
	Host     string
	Started  time.Time
	Report   func() call.Report
	Services func() []dispatcher.ServiceInfo
}

// System returns the system service:
//
//	ping      liveness with host and uptime
//	report    the call core report
//	services  registered services and their methods
func System(deps SystemDeps) dispatcher.Service {
	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}
	return dispatcher.Service{
		ID:      SystemID,
		Version: "1.0.0",
		Methods: dispatcher.Methods{
			"ping": func(_ context.Context, p *call.Parameters) (any, error) {
				return map[string]any{
					"pong":     true,
					"host":     deps.Host,
					"uptimeMs": time.Since(deps.Started).Milliseconds(),
					"userId":   p.Context().UserID(),
				}, nil
			},
			"report": func(context.Context, *call.Parameters) (any, error) {
				if deps.Report == nil {
					return nil, call.NewError(call.CodeInternal, "report unavailable")
				}
				return deps.Report(), nil
			},
			"services": func(context.Context, *call.Parameters) (any, error) {
				if deps.Services == nil {
					return nil, call.NewError(call.CodeInternal, "service list unavailable")
				}
				return deps.Services(), nil
			},
		},
	}
}

// Register registers the echo and system services on d.
func Register(d *dispatcher.Dispatcher, deps SystemDeps) error {
	if deps.Services == nil {
		deps.Services = d.Services
	}
	for _, svc := range []dispatcher.Service{Echo(), System(deps)} {
		if err := d.Register(svc); err != nil {
			return err
		}
	}
	return nil
}
