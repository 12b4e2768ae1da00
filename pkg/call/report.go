package call

import (
	"fmt"

	"github.com/morezero/callcore/pkg/workerpool"
)

// Report describes the configuration and live state of a Call.
type Report struct {
	Module          string           `json:"module"`
	Host            string           `json:"host"`
	Invoker         string           `json:"invoker"`
	Filters         []string         `json:"filters"`
	ContextRequired bool             `json:"contextRequired"`
	AsyncTimeout    string           `json:"asyncTimeout,omitempty"`
	Observers       int              `json:"observers"`
	Pool            workerpool.Stats `json:"pool"`
}

// Report returns the current Report.
func (c *Call) Report() Report {
	r := Report{
		Module:          "call",
		Host:            c.host,
		Invoker:         fmt.Sprintf("%T", c.invoker),
		Filters:         c.filters.Names(),
		ContextRequired: c.requireContext,
		Observers:       len(c.observers),
		Pool:            c.pool.Stats(),
	}
	if c.asyncTimeout > 0 {
		r.AsyncTimeout = c.asyncTimeout.String()
	}
	return r
}

// Lines renders the report as key/value lines for log output.
func (r Report) Lines() []string {
	return []string{
		fmt.Sprintf("host: %s", r.Host),
		fmt.Sprintf("invoker: %s", r.Invoker),
		fmt.Sprintf("filters: %v", r.Filters),
		fmt.Sprintf("context required: %t", r.ContextRequired),
		fmt.Sprintf("pool: %s workers=%d queue=%d active=%d queued=%d rejected=%d",
			r.Pool.Name, r.Pool.Workers, r.Pool.QueueSize, r.Pool.Active, r.Pool.Queued, r.Pool.Rejected),
	}
}
