// Package metrics exports invocation and worker pool metrics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/workerpool"
)

// DefaultNamespace prefixes every metric when no namespace is configured.
const DefaultNamespace = "callcore"

// Default histogram buckets for invocation duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// UnknownLabel replaces service and method labels that did not resolve to
// a registered method.
const UnknownLabel = "unknown"

// Codes whose service and method come from unvalidated request input.
var unresolvedCodes = map[string]bool{
	call.CodeServiceNotFound: true,
	call.CodeMethodNotFound:  true,
	call.CodeInvalidArgument: true,
}

// ServiceResolver maps a requested service reference and method to the
// canonical service id, reporting false when nothing is registered for
// them.
type ServiceResolver func(serviceRef, method string) (string, bool)

// Option configures Metrics.
type Option func(*Metrics)

// WithServiceResolver labels invocations by canonical service id and
// records the ones resolve rejects under UnknownLabel.
func WithServiceResolver(resolve ServiceResolver) Option {
	return func(m *Metrics) {
		m.resolve = resolve
	}
}

// Metrics wraps the collectors. It implements call.Observer.
type Metrics struct {
	registry *prometheus.Registry

	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	rejectionsTotal    *prometheus.CounterVec

	resolve ServiceResolver
}

// New creates Metrics on a private registry that also carries the Go and
// process collectors.
func New(namespace string, buckets []float64, opts ...Option) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of invocations by outcome",
			},
			[]string{"service", "method", "mode", "status"},
		),

		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_milliseconds",
				Help:      "Duration of invocations in milliseconds, filters included",
				Buckets:   buckets,
			},
			[]string{"service", "method", "mode"},
		),

		rejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Invocations rejected by a filter or refused by the async pool, by code",
			},
			[]string{"service", "code"},
		),
	}

	for _, opt := range opts {
		opt(m)
	}

	registry.MustRegister(m.invocationsTotal, m.invocationDuration, m.rejectionsTotal)
	return m
}

// ObserveInvocation records one invocation event.
func (m *Metrics) ObserveInvocation(ev call.Event) {
	service, method := m.labels(ev)
	m.invocationsTotal.WithLabelValues(service, method, string(ev.Mode), ev.Status).Inc()

	if ev.Status == call.StatusUnscheduled || ev.Status == string(call.StatusRejected) {
		m.rejectionsTotal.WithLabelValues(service, ev.Code).Inc()
	}
	if ev.Status != call.StatusUnscheduled {
		m.invocationDuration.WithLabelValues(service, method, string(ev.Mode)).
			Observe(float64(ev.Duration.Microseconds()) / 1000)
	}
}

// labels keeps series bounded: request input that did not resolve to a
// registered method is never used as a label value.
func (m *Metrics) labels(ev call.Event) (string, string) {
	if unresolvedCodes[ev.Code] {
		return UnknownLabel, UnknownLabel
	}
	if m.resolve == nil {
		return ev.ServiceID, ev.Method
	}
	id, ok := m.resolve(ev.ServiceID, ev.Method)
	if !ok {
		return UnknownLabel, UnknownLabel
	}
	return id, ev.Method
}

// RegisterPool exports gauges and counters read from the pool on each
// scrape.
func (m *Metrics) RegisterPool(namespace string, p *workerpool.Pool) error {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	labels := prometheus.Labels{"pool": p.Config().Name}
	gauge := func(name, help string, f func(workerpool.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pool",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return f(p.Stats()) })
	}
	counter := func(name, help string, f func(workerpool.Stats) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pool",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return f(p.Stats()) })
	}

	for _, c := range []prometheus.Collector{
		gauge("workers", "Configured worker count", func(s workerpool.Stats) float64 { return float64(s.Workers) }),
		gauge("active_tasks", "Tasks currently running", func(s workerpool.Stats) float64 { return float64(s.Active) }),
		gauge("queued_tasks", "Tasks waiting for a worker", func(s workerpool.Stats) float64 { return float64(s.Queued) }),
		counter("submitted_total", "Tasks admitted", func(s workerpool.Stats) float64 { return float64(s.Submitted) }),
		counter("rejected_total", "Tasks refused because the pool was full or closed", func(s workerpool.Stats) float64 { return float64(s.Rejected) }),
		counter("panics_total", "Tasks that panicked", func(s workerpool.Stats) float64 { return float64(s.Panics) }),
	} {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
