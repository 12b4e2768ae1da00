package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/morezero/callcore/pkg/workerpool"
)

// echoInvoker returns params["x"] as the payload and counts calls.
type echoInvoker struct {
	calls atomic.Int32
}

func (e *echoInvoker) Invoke(_ context.Context, _, _ string, params *Parameters) (*Result, error) {
	e.calls.Add(1)
	v, _ := params.Get("x")
	return NewResult(v), nil
}

// blockingInvoker blocks until release is closed or ctx is done.
type blockingInvoker struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
	once    sync.Once
}

func newBlockingInvoker() *blockingInvoker {
	return &blockingInvoker{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingInvoker) Invoke(ctx context.Context, _, _ string, _ *Parameters) (*Result, error) {
	b.calls.Add(1)
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return NewResult("released"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestCall(t *testing.T, invoker Invoker, opts ...Option) *Call {
	t.Helper()
	c, err := New(invoker, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&echoInvoker{}, WithFilters(nil))
	assert.Error(t, err)

	_, err = New(&echoInvoker{}, WithPoolConfig(workerpool.Config{Workers: -1}))
	assert.Error(t, err)

	_, err = New(&echoInvoker{}, WithAsyncTimeout(-time.Second))
	assert.Error(t, err)
}

func TestInvoke_ReturnsPayloadAndHost(t *testing.T) {
	c := newTestCall(t, &echoInvoker{}, WithHost("node-a"))

	res := c.Invoke(context.Background(), "echo", "echo", NewParameters().Set("x", 42))
	require.NotNil(t, res)
	assert.True(t, res.OK())
	assert.Equal(t, 42, res.Payload())
	assert.Equal(t, "node-a", res.Host())
}

func TestInvoke_KeepsInvokerHost(t *testing.T) {
	inv := InvokerFunc(func(context.Context, string, string, *Parameters) (*Result, error) {
		return NewResult("ok").WithHost("remote"), nil
	})
	c := newTestCall(t, inv, WithHost("local"))

	res := c.Invoke(context.Background(), "svc", "m", nil)
	assert.Equal(t, "remote", res.Host())
}

func TestInvoke_NeverReturnsNil(t *testing.T) {
	tests := []struct {
		name    string
		invoker Invoker
		status  Status
		code    string
	}{
		{
			name: "invoker error",
			invoker: InvokerFunc(func(context.Context, string, string, *Parameters) (*Result, error) {
				return nil, errors.New("boom")
			}),
			status: StatusFailed,
			code:   CodeInvocationFailed,
		},
		{
			name: "typed invoker error",
			invoker: InvokerFunc(func(context.Context, string, string, *Parameters) (*Result, error) {
				return nil, NewError(CodeMethodNotFound, "Unknown method: nope")
			}),
			status: StatusFailed,
			code:   CodeMethodNotFound,
		},
		{
			name: "nil result",
			invoker: InvokerFunc(func(context.Context, string, string, *Parameters) (*Result, error) {
				return nil, nil
			}),
			status: StatusFailed,
			code:   CodeInternal,
		},
		{
			name: "panic",
			invoker: InvokerFunc(func(context.Context, string, string, *Parameters) (*Result, error) {
				panic("kaboom")
			}),
			status: StatusFailed,
			code:   CodeInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCall(t, tt.invoker)
			res := c.Invoke(context.Background(), "svc", "m", NewParameters())
			require.NotNil(t, res)
			assert.Equal(t, tt.status, res.Status())
			require.NotNil(t, res.Detail())
			assert.Equal(t, tt.code, res.Detail().Code)
			assert.Error(t, res.Err())
			assert.NotEmpty(t, res.Host())
		})
	}
}

func TestInvoke_FilterChainShortCircuits(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string, err error) InvokeFilter {
		return NewNamedFilter(name, func(context.Context, *InvokeContext) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		})
	}

	inv := &echoInvoker{}
	c := newTestCall(t, inv, WithFilters(
		record("A", nil),
		record("B", NewError(CodeForbidden, "no")),
		record("C", nil),
	))

	params := NewParameters().Set("x", 1)
	params.WithContext().Set(AttrUserID, "alice")
	res := c.Invoke(context.Background(), "echo", "echo", params)

	assert.Equal(t, StatusRejected, res.Status())
	assert.Equal(t, CodeForbidden, res.Detail().Code)
	assert.True(t, errors.Is(res.Err(), ErrRejected))
	assert.Equal(t, []string{"A", "B"}, order)
	assert.Equal(t, int32(0), inv.calls.Load())
}

func TestInvoke_UntypedFilterErrorIsRejected(t *testing.T) {
	c := newTestCall(t, &echoInvoker{}, WithFilters(NewNamedFilter("deny", func(context.Context, *InvokeContext) error {
		return errors.New("denied")
	})))

	params := NewParameters()
	params.WithContext()
	res := c.Invoke(context.Background(), "echo", "echo", params)

	assert.Equal(t, StatusRejected, res.Status())
	assert.Equal(t, CodeRejected, res.Detail().Code)
	assert.Equal(t, map[string]any{"filter": "deny"}, res.Detail().Details)
}

func TestInvoke_FiltersSkippedWithoutContext(t *testing.T) {
	var ran atomic.Bool
	deny := FilterFunc(func(context.Context, *InvokeContext) error {
		ran.Store(true)
		return errors.New("denied")
	})

	c := newTestCall(t, &echoInvoker{}, WithFilters(deny))
	res := c.Invoke(context.Background(), "echo", "echo", NewParameters())
	assert.True(t, res.OK())
	assert.False(t, ran.Load())

	strict := newTestCall(t, &echoInvoker{}, WithFilters(deny), WithContextRequired(true))
	res = strict.Invoke(context.Background(), "echo", "echo", NewParameters())
	assert.Equal(t, StatusRejected, res.Status())
	assert.True(t, ran.Load())
}

func TestInvokeAsync_EachCallGetsOwnPayload(t *testing.T) {
	c := newTestCall(t, &echoInvoker{}, WithPoolConfig(workerpool.Config{Workers: 1, QueueSize: 3}))

	futures := make([]*Future, 3)
	for i := range futures {
		f, err := c.InvokeAsync(context.Background(), "echo", "echo", NewParameters().Set("x", i))
		require.NoError(t, err)
		futures[i] = f
	}
	for i, f := range futures {
		res, err := f.GetTimeout(5 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, i, res.Payload())
		assert.Equal(t, StateCompleted, f.State())
	}
}

func TestInvokeAsync_PoolFullRejectsImmediately(t *testing.T) {
	inv := newBlockingInvoker()
	c := newTestCall(t, inv, WithPoolConfig(workerpool.Config{Workers: 1, QueueSize: 0}))

	first, err := c.InvokeAsync(context.Background(), "svc", "m", nil)
	require.NoError(t, err)
	<-inv.started

	start := time.Now()
	second, err := c.InvokeAsync(context.Background(), "svc", "m", nil)
	assert.Nil(t, second)
	assert.ErrorIs(t, err, ErrPoolFull)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeScheduleRejected, ce.Code)
	assert.True(t, ce.Retryable())
	assert.Less(t, time.Since(start), time.Second)

	close(inv.release)
	res, err := first.Get()
	require.NoError(t, err)
	assert.Equal(t, "released", res.Payload())
}

func TestInvokeAsync_CancelBeforeStartPreventsInvocation(t *testing.T) {
	inv := newBlockingInvoker()
	c := newTestCall(t, inv, WithPoolConfig(workerpool.Config{Workers: 1, QueueSize: 1}))

	running, err := c.InvokeAsync(context.Background(), "svc", "m", nil)
	require.NoError(t, err)
	<-inv.started

	queued, err := c.InvokeAsync(context.Background(), "svc", "m", nil)
	require.NoError(t, err)
	assert.True(t, queued.Cancel(false))
	assert.True(t, queued.IsCancelled())
	assert.True(t, queued.IsDone())

	res, err := queued.Get()
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrCancelled)

	close(inv.release)
	_, err = running.Get()
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, int32(1), inv.calls.Load())
}

func TestInvokeAsync_CancelWithInterrupt(t *testing.T) {
	inv := newBlockingInvoker()
	c := newTestCall(t, inv)

	f, err := c.InvokeAsync(context.Background(), "svc", "m", nil)
	require.NoError(t, err)
	<-inv.started

	assert.True(t, f.Cancel(true))
	assert.False(t, f.Cancel(true))
	_, err = f.Get()
	assert.ErrorIs(t, err, ErrCancelled)

	// The interrupted invocation unblocks through its context and the
	// pool drains without releasing the invoker.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))
}

func TestInvokeAsync_CancelAfterCompletion(t *testing.T) {
	c := newTestCall(t, &echoInvoker{})

	f, err := c.InvokeAsync(context.Background(), "echo", "echo", NewParameters().Set("x", "v"))
	require.NoError(t, err)
	res, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, "v", res.Payload())

	assert.False(t, f.Cancel(true))
	assert.Equal(t, StateCompleted, f.State())
}

func TestInvokeAsync_GetTimeoutLeavesTaskRunning(t *testing.T) {
	inv := newBlockingInvoker()
	c := newTestCall(t, inv)

	f, err := c.InvokeAsync(context.Background(), "svc", "m", nil)
	require.NoError(t, err)

	res, err := f.GetTimeout(20 * time.Millisecond)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StatePending, f.State())

	close(inv.release)
	res, err = f.GetTimeout(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "released", res.Payload())
}

func TestInvokeAsync_FailedFuture(t *testing.T) {
	inv := InvokerFunc(func(context.Context, string, string, *Parameters) (*Result, error) {
		return nil, NewError(CodeInvalidArgument, "bad x")
	})
	c := newTestCall(t, inv)

	f, err := c.InvokeAsync(context.Background(), "svc", "m", nil)
	require.NoError(t, err)
	res, err := f.Get()
	require.NotNil(t, res)
	assert.Equal(t, StatusFailed, res.Status())
	assert.Equal(t, StateFailed, f.State())
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeInvalidArgument, ce.Code)
}

func TestInvokeAsync_IgnoresSubmitterCancellation(t *testing.T) {
	c := newTestCall(t, &echoInvoker{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, err := c.InvokeAsync(ctx, "echo", "echo", NewParameters().Set("x", 1))
	require.NoError(t, err)
	res, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Payload())
}

func TestInvokeAsync_Timeout(t *testing.T) {
	inv := newBlockingInvoker()
	c := newTestCall(t, inv, WithAsyncTimeout(20*time.Millisecond))

	f, err := c.InvokeAsync(context.Background(), "svc", "m", nil)
	require.NoError(t, err)
	res, err := f.GetTimeout(5 * time.Second)
	require.NotNil(t, res)
	assert.Equal(t, StatusFailed, res.Status())
	assert.Equal(t, StateFailed, f.State())
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, CodeDeadlineExceeded, res.Detail().Code)
	assert.True(t, res.Detail().Retryable)
}

func TestInvokeAsync_KeepsSubmitterDeadline(t *testing.T) {
	inv := newBlockingInvoker()
	c := newTestCall(t, inv)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	f, err := c.InvokeAsync(ctx, "svc", "m", nil)
	require.NoError(t, err)

	res, err := f.GetTimeout(5 * time.Second)
	require.NotNil(t, res)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
}

func TestInvokeAsyncCallback_ExactlyOnce(t *testing.T) {
	const n = 200
	c := newTestCall(t, &echoInvoker{}, WithPoolConfig(workerpool.Config{Workers: 8, QueueSize: n}))

	var mu sync.Mutex
	deliveries := make(map[int]int)
	var wg sync.WaitGroup
	wg.Add(n)

	var submitWG sync.WaitGroup
	for i := 0; i < n; i++ {
		submitWG.Add(1)
		go func(i int) {
			defer submitWG.Done()
			err := c.InvokeAsyncCallback(context.Background(), "echo", "echo", NewParameters().Set("x", i),
				func(o Outcome) {
					defer wg.Done()
					mu.Lock()
					deliveries[o.Token.(int)]++
					mu.Unlock()
					assert.True(t, o.Succeeded())
					assert.Equal(t, o.Token, o.Result.Payload())
				}, i)
			assert.NoError(t, err)
		}(i)
	}
	submitWG.Wait()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("callbacks were not all delivered")
	}

	require.Len(t, deliveries, n)
	for token, count := range deliveries {
		assert.Equal(t, 1, count, "token %d", token)
	}
}

func TestInvokeAsyncCallback_FailureVariant(t *testing.T) {
	c := newTestCall(t, InvokerFunc(func(context.Context, string, string, *Parameters) (*Result, error) {
		return nil, errors.New("broken")
	}))

	got := make(chan Outcome, 1)
	require.NoError(t, c.InvokeAsyncCallback(context.Background(), "svc", "m", nil, func(o Outcome) {
		got <- o
	}, "tok"))

	o := <-got
	assert.False(t, o.Succeeded())
	assert.Equal(t, "tok", o.Token)
	assert.Equal(t, "svc", o.ServiceID)
	assert.Equal(t, "m", o.Method)
	require.NotNil(t, o.Result)
	assert.Equal(t, StatusFailed, o.Result.Status())
}

func TestInvokeAsyncCallback_PanickingCallbackDoesNotKillWorker(t *testing.T) {
	c := newTestCall(t, &echoInvoker{}, WithPoolConfig(workerpool.Config{Workers: 1, QueueSize: 1}))

	require.NoError(t, c.InvokeAsyncCallback(context.Background(), "echo", "echo", nil, func(Outcome) {
		panic("callback bug")
	}, nil))

	got := make(chan struct{})
	require.NoError(t, c.InvokeAsyncCallback(context.Background(), "echo", "echo", nil, func(Outcome) {
		close(got)
	}, nil))
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("second callback not delivered")
	}
	assert.Equal(t, uint64(0), c.Pool().Stats().Panics)
}

func TestInvokeAsync_AfterClose(t *testing.T) {
	c, err := New(&echoInvoker{})
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background()))

	_, err = c.InvokeAsync(context.Background(), "echo", "echo", nil)
	assert.ErrorIs(t, err, ErrPoolClosed)
	err = c.InvokeAsyncCallback(context.Background(), "echo", "echo", nil, nil, nil)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestObserver_ReceivesEvents(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	obs := ObserverFunc(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	inv := newBlockingInvoker()
	c := newTestCall(t, inv, WithObserver(obs), WithHost("h1"), WithPoolConfig(workerpool.Config{Workers: 1}))

	f, err := c.InvokeAsync(context.Background(), "svc", "m", nil)
	require.NoError(t, err)
	<-inv.started
	_, err = c.InvokeAsync(context.Background(), "svc", "m", nil)
	require.Error(t, err)
	close(inv.release)
	_, err = f.Get()
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, StatusUnscheduled, events[0].Status)
	assert.Equal(t, CodeScheduleRejected, events[0].Code)
	assert.Equal(t, string(StatusOK), events[1].Status)
	assert.Equal(t, ModeAsync, events[1].Mode)
	assert.Equal(t, "h1", events[1].Host)
	assert.NotEmpty(t, events[1].ID)
}

func TestInvoke_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	c := newTestCall(t, &echoInvoker{}, WithTracer(provider.Tracer("test")))

	c.Invoke(context.Background(), "echo", "echo", nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "call.Invoke", spans[0].Name())
}

func TestReport(t *testing.T) {
	c := newTestCall(t, &echoInvoker{},
		WithHost("h"),
		WithFilters(NewNamedFilter("trace", func(context.Context, *InvokeContext) error { return nil })),
		WithPoolConfig(workerpool.Config{Name: "p", Workers: 2, QueueSize: 3}),
		WithAsyncTimeout(time.Second),
	)

	r := c.Report()
	assert.Equal(t, "h", r.Host)
	assert.Equal(t, []string{"trace"}, r.Filters)
	assert.Equal(t, "p", r.Pool.Name)
	assert.Equal(t, 2, r.Pool.Workers)
	assert.Equal(t, 3, r.Pool.QueueSize)
	assert.Equal(t, "1s", r.AsyncTimeout)
	assert.Contains(t, r.Invoker, "echoInvoker")
	assert.NotEmpty(t, r.Lines())
}

func TestClose_ExternalPoolLeftRunning(t *testing.T) {
	pool, err := workerpool.New(workerpool.Config{Workers: 1})
	require.NoError(t, err)
	defer pool.Shutdown(context.Background())

	c, err := New(&echoInvoker{}, WithPool(pool))
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background()))

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func() { close(done) }), fmt.Sprintf("pool closed: %+v", pool.Stats()))
	<-done
}
