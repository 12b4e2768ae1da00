// Package dispatcher is the local invocation table: it maps versioned
// service ids and method names to handler functions and implements
// call.Invoker on top of them.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/semver"
)

const logPrefix = "dispatcher:dispatch"

// DefaultVersion is used when a service registers without a version.
const DefaultVersion = "1.0.0"

// HandlerFunc handles one method of a service. Returned errors that are not
// a *call.Error are reported as INVOCATION_FAILED.
type HandlerFunc func(ctx context.Context, params *call.Parameters) (any, error)

// Methods maps method names to handlers.
type Methods map[string]HandlerFunc

// Service describes a service to register.
type Service struct {
	ID         string
	Version    string
	Deprecated bool
	Methods    Methods
}

// ServiceInfo describes a registered service version.
type ServiceInfo struct {
	ID         string   `json:"id"`
	Version    string   `json:"version"`
	Deprecated bool     `json:"deprecated,omitempty"`
	Methods    []string `json:"methods"`
}

type entry struct {
	id      string
	methods Methods
}

// Dispatcher routes invocations to registered services.
type Dispatcher struct {
	mu       sync.RWMutex
	services map[string][]semver.Candidate[*entry]
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{services: make(map[string][]semver.Candidate[*entry])}
}

// Register adds a service version. Registering the same id and version
// twice is an error.
func (d *Dispatcher) Register(svc Service) error {
	if !semver.ValidateServiceID(svc.ID) {
		return fmt.Errorf("%s - invalid service id %q", logPrefix, svc.ID)
	}
	if len(svc.Methods) == 0 {
		return fmt.Errorf("%s - service %q has no methods", logPrefix, svc.ID)
	}
	for name, h := range svc.Methods {
		if name == "" || h == nil {
			return fmt.Errorf("%s - service %q has an empty method name or nil handler", logPrefix, svc.ID)
		}
	}
	version := svc.Version
	if version == "" {
		version = DefaultVersion
	}

	methods := make(Methods, len(svc.Methods))
	for name, h := range svc.Methods {
		methods[name] = h
	}
	cand, err := semver.NewCandidate(version, svc.Deprecated, &entry{id: svc.ID, methods: methods})
	if err != nil {
		return fmt.Errorf("%s - service %q: %w", logPrefix, svc.ID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.services[svc.ID] {
		if existing.Version.Equal(cand.Version) {
			return fmt.Errorf("%s - service %s@%s is already registered", logPrefix, svc.ID, cand.Version)
		}
	}
	d.services[svc.ID] = append(d.services[svc.ID], cand)

	slog.Info(fmt.Sprintf("%s - Registered service %s@%s with %d methods", logPrefix, svc.ID, cand.Version, len(methods)))
	return nil
}

// Unregister removes a service version and reports whether it existed.
func (d *Dispatcher) Unregister(id, version string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	versions := d.services[id]
	for i, c := range versions {
		if c.Version.Original() == version || c.Version.String() == version {
			d.services[id] = append(versions[:i:i], versions[i+1:]...)
			if len(d.services[id]) == 0 {
				delete(d.services, id)
			}
			return true
		}
	}
	return false
}

// Invoke resolves serviceRef (an id with an optional "@range") and runs the
// named method.
func (d *Dispatcher) Invoke(ctx context.Context, serviceRef, method string, params *call.Parameters) (*call.Result, error) {
	slog.Debug(fmt.Sprintf("%s - service=%s method=%s", logPrefix, serviceRef, method))

	svc, err := d.resolve(serviceRef)
	if err != nil {
		return nil, err
	}

	handler, ok := svc.methods[method]
	if !ok {
		return nil, call.Errorf(call.CodeMethodNotFound, "Unknown method: %s", method)
	}

	payload, err := handler(ctx, params)
	if err != nil {
		return nil, handlerError(err)
	}
	return call.NewResult(payload), nil
}

// Lookup reports the registered service id that serviceRef resolves to,
// and whether it has the named method.
func (d *Dispatcher) Lookup(serviceRef, method string) (string, bool) {
	svc, err := d.resolve(serviceRef)
	if err != nil {
		return "", false
	}
	if _, ok := svc.methods[method]; !ok {
		return "", false
	}
	return svc.id, true
}

func (d *Dispatcher) resolve(serviceRef string) (*entry, error) {
	ref, err := semver.ParseServiceRef(serviceRef)
	if err != nil {
		return nil, &call.Error{Code: call.CodeInvalidArgument, Message: err.Error(), Err: err}
	}

	d.mu.RLock()
	versions := d.services[ref.ID]
	d.mu.RUnlock()

	if len(versions) == 0 {
		return nil, call.Errorf(call.CodeServiceNotFound, "Unknown service: %s", ref.ID)
	}
	cand, ok := semver.Resolve(versions, ref.Range)
	if !ok {
		return nil, &call.Error{
			Code:    call.CodeServiceNotFound,
			Message: fmt.Sprintf("No version of %s matches %q", ref.ID, ref.Range),
			Details: map[string]any{"service": ref.ID, "range": ref.Range},
		}
	}
	return cand.Value, nil
}

func handlerError(err error) error {
	var ce *call.Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return &call.Error{Code: call.CodeInvocationFailed, Message: err.Error(), Err: err}
}

// Services lists registered service versions sorted by id and version.
func (d *Dispatcher) Services() []ServiceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []ServiceInfo
	for id, versions := range d.services {
		for _, c := range versions {
			methods := make([]string, 0, len(c.Value.methods))
			for name := range c.Value.methods {
				methods = append(methods, name)
			}
			sort.Strings(methods)
			out = append(out, ServiceInfo{
				ID:         id,
				Version:    c.Version.String(),
				Deprecated: c.Deprecated,
				Methods:    methods,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// ServiceIDs returns the distinct registered ids in sorted order.
func (d *Dispatcher) ServiceIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.services))
	for id := range d.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
