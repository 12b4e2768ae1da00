// Package call is the invocation core. A Call addresses a named service and
// method through an Invoker, runs a filter chain against the caller's
// InvokeContext, and returns a Result synchronously, through a Future, or
// to a Callback. Asynchronous invocations run on a bounded worker pool and
// execute exactly the synchronous path.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/morezero/callcore/pkg/workerpool"
)

const logPrefix = "call:call"

const tracerName = "github.com/morezero/callcore/pkg/call"

var (
	attrService = attribute.Key("rpc.service")
	attrMethod  = attribute.Key("rpc.method")
	attrMode    = attribute.Key("callcore.mode")
	attrStatus  = attribute.Key("callcore.status")
	attrHost    = attribute.Key("callcore.host")
)

// Invoker performs the actual invocation of serviceID.method. It may be a
// local dispatch table or a client of a remote core.
type Invoker interface {
	Invoke(ctx context.Context, serviceID, method string, params *Parameters) (*Result, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, serviceID, method string, params *Parameters) (*Result, error)

func (f InvokerFunc) Invoke(ctx context.Context, serviceID, method string, params *Parameters) (*Result, error) {
	return f(ctx, serviceID, method, params)
}

// Call is the invocation core. It is safe for concurrent use.
type Call struct {
	invoker        Invoker
	filters        Chain
	pool           *workerpool.Pool
	poolCfg        workerpool.Config
	ownsPool       bool
	host           string
	tracer         trace.Tracer
	observers      []Observer
	asyncTimeout   time.Duration
	requireContext bool
}

// Option configures a Call.
type Option func(*Call)

// WithFilters appends filters to the chain in the given order.
func WithFilters(filters ...InvokeFilter) Option {
	return func(c *Call) {
		c.filters = append(c.filters, filters...)
	}
}

// WithPool runs asynchronous invocations on an existing pool. The Call does
// not shut it down on Close.
func WithPool(p *workerpool.Pool) Option {
	return func(c *Call) {
		c.pool = p
	}
}

// WithPoolConfig sizes the pool the Call creates for itself.
func WithPoolConfig(cfg workerpool.Config) Option {
	return func(c *Call) {
		c.poolCfg = cfg
	}
}

// WithHost sets the host stamped onto results that carry none.
func WithHost(host string) Option {
	return func(c *Call) {
		c.host = host
	}
}

// WithTracer sets the tracer used for invocation spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Call) {
		c.tracer = t
	}
}

// WithObserver registers an observer for invocation events.
func WithObserver(o Observer) Option {
	return func(c *Call) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithAsyncTimeout bounds every asynchronous invocation, measured from
// submission. Zero disables the bound.
func WithAsyncTimeout(d time.Duration) Option {
	return func(c *Call) {
		c.asyncTimeout = d
	}
}

// WithContextRequired attaches an empty InvokeContext to parameters that
// carry none, so the filter chain runs on every invocation.
func WithContextRequired(required bool) Option {
	return func(c *Call) {
		c.requireContext = required
	}
}

// New builds a Call around invoker.
func New(invoker Invoker, opts ...Option) (*Call, error) {
	if invoker == nil {
		return nil, fmt.Errorf("%s - invoker is required", logPrefix)
	}

	c := &Call{
		invoker: invoker,
		poolCfg: workerpool.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for i, f := range c.filters {
		if f == nil {
			return nil, fmt.Errorf("%s - filter at position %d is nil", logPrefix, i)
		}
	}
	if c.asyncTimeout < 0 {
		return nil, fmt.Errorf("%s - async timeout must not be negative", logPrefix)
	}
	if c.host == "" {
		c.host = defaultHost()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	if c.pool == nil {
		pool, err := workerpool.New(c.poolCfg)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to create worker pool: %w", logPrefix, err)
		}
		c.pool = pool
		c.ownsPool = true
	}
	c.poolCfg = c.pool.Config()

	slog.Debug(fmt.Sprintf("%s - Created invocation core on host %s with filters %v", logPrefix, c.host, c.filters.Names()))
	return c, nil
}

func defaultHost() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

// NewParameters returns an empty parameter bag.
func (c *Call) NewParameters() *Parameters {
	return NewParameters()
}

// Host returns the host stamped onto results.
func (c *Call) Host() string {
	return c.host
}

// Pool returns the worker pool executing asynchronous invocations.
func (c *Call) Pool() *workerpool.Pool {
	return c.pool
}

// Invoke runs serviceID.method on the calling goroutine. It never returns
// nil: filter rejections yield a rejected Result, invoker errors and panics
// yield a failed Result.
func (c *Call) Invoke(ctx context.Context, serviceID, method string, params *Parameters) *Result {
	return c.invoke(ctx, serviceID, method, params, ModeSync)
}

func (c *Call) invoke(ctx context.Context, serviceID, method string, params *Parameters, mode Mode) (res *Result) {
	if ctx == nil {
		ctx = context.Background()
	}
	if params == nil {
		params = NewParameters()
	}

	started := time.Now()
	ctx, span := c.tracer.Start(ctx, "call.Invoke", trace.WithAttributes(
		attrService.String(serviceID),
		attrMethod.String(method),
		attrMode.String(string(mode)),
	))

	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - Invocation %s.%s panicked: %v", logPrefix, serviceID, method, r))
			res = FailedResult(Errorf(CodeInternal, "invocation panicked: %v", r))
		}
		if res.Host() == "" {
			res = res.WithHost(c.host)
		}
		res = res.withDuration(time.Since(started))
		endSpan(span, res)
		c.notify(Event{
			ServiceID: serviceID,
			Method:    method,
			Mode:      mode,
			Status:    string(res.Status()),
			Code:      codeOf(res),
			Host:      res.Host(),
			Started:   started,
			Duration:  res.Duration(),
			Err:       res.Err(),
		})
	}()

	ic := params.Context()
	if ic == nil && c.requireContext {
		ic = params.WithContext()
	}
	if err := c.filters.Apply(ctx, ic); err != nil {
		slog.Debug(fmt.Sprintf("%s - Invocation %s.%s rejected: %v", logPrefix, serviceID, method, err))
		return RejectedResult(err)
	}

	out, err := c.invoker.Invoke(ctx, serviceID, method, params)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - Invocation %s.%s failed: %v", logPrefix, serviceID, method, err))
		return FailedResult(err)
	}
	if out == nil {
		return FailedResult(Errorf(CodeInternal, "invoker returned no result for %s.%s", serviceID, method))
	}
	return out
}

// InvokeAsync schedules serviceID.method on the worker pool and returns a
// Future for its result. The returned error reports a scheduling failure
// (ErrPoolFull, ErrPoolClosed); the invocation did not start in that case.
//
// The task keeps the values of ctx, such as the current span, and its
// deadline, but not its cancellation.
func (c *Call) InvokeAsync(ctx context.Context, serviceID, method string, params *Parameters) (*Future, error) {
	f := newFuture()
	taskCtx, cancel := c.taskContext(ctx)

	err := c.pool.Submit(func() {
		defer cancel()
		if !f.begin(cancel) {
			slog.Debug(fmt.Sprintf("%s - Skipping %s.%s, cancelled before start", logPrefix, serviceID, method))
			return
		}
		res := c.invoke(taskCtx, serviceID, method, params, ModeAsync)
		if !f.complete(res) {
			slog.Debug(fmt.Sprintf("%s - Discarding result of cancelled %s.%s", logPrefix, serviceID, method))
		}
	})
	if err != nil {
		cancel()
		return nil, c.scheduleFailed(serviceID, method, ModeAsync, err)
	}
	return f, nil
}

// InvokeAsyncCallback schedules serviceID.method on the worker pool and
// delivers its Outcome to cb exactly once, on the worker goroutine. token is
// passed back in the Outcome. A nil cb discards the outcome. The returned
// error reports a scheduling failure, in which case cb is never called.
func (c *Call) InvokeAsyncCallback(ctx context.Context, serviceID, method string, params *Parameters, cb Callback, token any) error {
	taskCtx, cancel := c.taskContext(ctx)

	err := c.pool.Submit(func() {
		defer cancel()
		res := c.invoke(taskCtx, serviceID, method, params, ModeCallback)
		deliver(cb, newOutcome(serviceID, method, params, token, res))
	})
	if err != nil {
		cancel()
		return c.scheduleFailed(serviceID, method, ModeCallback, err)
	}
	return nil
}

// taskContext keeps the values and deadline of ctx but not its
// cancellation. The async timeout, when set, can only shorten the deadline.
func (c *Call) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline, ok := ctx.Deadline()
	if c.asyncTimeout > 0 {
		if d := time.Now().Add(c.asyncTimeout); !ok || d.Before(deadline) {
			deadline, ok = d, true
		}
	}
	base := context.WithoutCancel(ctx)
	if ok {
		return context.WithDeadline(base, deadline)
	}
	return context.WithCancel(base)
}

func (c *Call) scheduleFailed(serviceID, method string, mode Mode, err error) error {
	slog.Warn(fmt.Sprintf("%s - Could not schedule %s.%s: %v", logPrefix, serviceID, method, err))
	e := &Error{Code: CodeScheduleRejected, Message: err.Error(), Err: err}
	c.notify(Event{
		ServiceID: serviceID,
		Method:    method,
		Mode:      mode,
		Status:    StatusUnscheduled,
		Code:      CodeScheduleRejected,
		Host:      c.host,
		Started:   time.Now(),
		Err:       e,
	})
	return e
}

func (c *Call) notify(ev Event) {
	if len(c.observers) == 0 {
		return
	}
	ev.ID = uuid.NewString()
	notifyObservers(c.observers, ev)
}

// Close stops admission of asynchronous invocations and waits for admitted
// ones to finish or ctx to expire. A pool passed with WithPool is left
// running.
func (c *Call) Close(ctx context.Context) error {
	if !c.ownsPool {
		return nil
	}
	return c.pool.Shutdown(ctx)
}

func codeOf(res *Result) string {
	if d := res.Detail(); d != nil {
		return d.Code
	}
	return ""
}

func endSpan(span trace.Span, res *Result) {
	span.SetAttributes(attrStatus.String(string(res.Status())), attrHost.String(res.Host()))
	if err := res.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
