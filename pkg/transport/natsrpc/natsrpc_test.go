package natsrpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/morezero/callcore/pkg/workerpool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/callcore/internal/testutil"
	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/dispatcher"
	"github.com/morezero/callcore/pkg/serializer"
	"github.com/morezero/callcore/pkg/transport"
)

func newServingCore(t *testing.T, opts ...call.Option) *call.Call {
	t.Helper()
	d := dispatcher.NewDispatcher()
	require.NoError(t, d.Register(dispatcher.Service{ID: "echo", Methods: dispatcher.Methods{
		"echo": func(_ context.Context, p *call.Parameters) (any, error) {
			return p.Values(), nil
		},
		"whoami": func(_ context.Context, p *call.Parameters) (any, error) {
			return p.Context().UserID(), nil
		},
		"slow": func(ctx context.Context, _ *call.Parameters) (any, error) {
			select {
			case <-time.After(2 * time.Second):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}}))
	c, err := call.New(d, append([]call.Option{call.WithHost("server-host")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestServerAndClient_RoundTrip(t *testing.T) {
	for _, ser := range []serializer.Serializer{serializer.NewJSON(), serializer.NewProtobuf()} {
		t.Run(ser.Name(), func(t *testing.T) {
			_, nc := testutil.StartCommsServer(t)

			servant := transport.NewServant(newServingCore(t), "", serializer.NewJSON(), serializer.NewProtobuf())
			srv := NewServer(nc, servant, ServerOptions{SubjectPrefix: "test.rpc", QueueGroup: "q"})
			require.NoError(t, srv.Serve("echo"))
			defer srv.Close()

			client := NewClient(nc, ser, "test.rpc", 5*time.Second)

			params := call.NewParameters().Set("x", "hello")
			res, err := client.Invoke(context.Background(), "echo", "echo", params)
			require.NoError(t, err)
			assert.True(t, res.OK())
			assert.Equal(t, "server-host", res.Host())
			var payload map[string]string
			require.NoError(t, res.Decode(&payload))
			assert.Equal(t, "hello", payload["x"])

			params = call.NewParameters()
			params.WithContext().Set(call.AttrUserID, "alice")
			res, err = client.Invoke(context.Background(), "echo@1", "whoami", params)
			require.NoError(t, err)
			assert.Equal(t, "alice", res.Payload())

			res, err = client.Invoke(context.Background(), "echo", "missing", nil)
			require.NoError(t, err)
			assert.Equal(t, call.StatusFailed, res.Status())
			assert.Equal(t, call.CodeMethodNotFound, res.Detail().Code)
		})
	}
}

func TestClient_NoResponders(t *testing.T) {
	_, nc := testutil.StartCommsServer(t)
	client := NewClient(nc, nil, "", time.Second)

	_, err := client.Invoke(context.Background(), "ghost", "m", nil)
	var ce *call.Error
	require.True(t, errors.As(err, &ce), "expected *call.Error, got %v", err)
	assert.Equal(t, call.CodeServiceNotFound, ce.Code)
}

func TestClient_Timeout(t *testing.T) {
	_, nc := testutil.StartCommsServer(t)

	srv := NewServer(nc, transport.NewServant(newServingCore(t), "h"), ServerOptions{})
	require.NoError(t, srv.Serve("echo"))
	defer srv.Close()

	client := NewClient(nc, nil, "", 100*time.Millisecond)
	_, err := client.Invoke(context.Background(), "echo", "slow", nil)
	assert.ErrorIs(t, err, call.ErrTimeout)
}

func TestClient_FrontsLocalCore(t *testing.T) {
	_, nc := testutil.StartCommsServer(t)

	srv := NewServer(nc, transport.NewServant(newServingCore(t), "remote"), ServerOptions{})
	require.NoError(t, srv.Serve("echo"))
	defer srv.Close()

	local, err := call.New(NewClient(nc, nil, "", 5*time.Second), call.WithHost("local"))
	require.NoError(t, err)
	defer local.Close(context.Background())

	f, err := local.InvokeAsync(context.Background(), "echo", "echo", call.NewParameters().Set("x", 1))
	require.NoError(t, err)
	res, err := f.GetTimeout(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "remote", res.Host())
}

func TestServer_MissingMethodHeader(t *testing.T) {
	_, nc := testutil.StartCommsServer(t)

	srv := NewServer(nc, transport.NewServant(newServingCore(t), "h"), ServerOptions{})
	require.NoError(t, srv.Serve("echo"))
	defer srv.Close()

	reply, err := nc.Request("rpc.echo", nil, 2*time.Second)
	require.NoError(t, err)

	var res call.Result
	require.NoError(t, serializer.Unmarshal(context.Background(), serializer.NewJSON(), reply.Data, &res))
	assert.Equal(t, call.StatusFailed, res.Status())
	assert.Equal(t, call.CodeInvalidArgument, res.Detail().Code)
}

func TestServer_SlowCallDoesNotBlockOthers(t *testing.T) {
	_, nc := testutil.StartCommsServer(t)

	srv := NewServer(nc, transport.NewServant(newServingCore(t), "h"), ServerOptions{})
	require.NoError(t, srv.Serve("echo"))
	defer srv.Close()

	client := NewClient(nc, nil, "", 5*time.Second)
	slow := make(chan *call.Result, 1)
	go func() {
		res, _ := client.Invoke(context.Background(), "echo", "slow", nil)
		slow <- res
	}()
	time.Sleep(100 * time.Millisecond)

	started := time.Now()
	res, err := client.Invoke(context.Background(), "echo", "echo", call.NewParameters().Set("x", "fast"))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Less(t, time.Since(started), time.Second, "fast call waited behind the slow one")

	select {
	case res := <-slow:
		require.NotNil(t, res)
		assert.Equal(t, "late", res.Payload())
	case <-time.After(5 * time.Second):
		t.Fatal("slow call never answered")
	}
}

func TestServer_FullPoolAnswersScheduleRejected(t *testing.T) {
	_, nc := testutil.StartCommsServer(t)

	core := newServingCore(t, call.WithPoolConfig(workerpool.Config{Workers: 1, QueueSize: 0}))
	srv := NewServer(nc, transport.NewServant(core, "h"), ServerOptions{})
	require.NoError(t, srv.Serve("echo"))
	defer srv.Close()

	client := NewClient(nc, nil, "", 5*time.Second)
	go client.Invoke(context.Background(), "echo", "slow", nil)
	require.Eventually(t, func() bool { return core.Pool().Stats().Active == 1 }, 2*time.Second, 10*time.Millisecond)

	res, err := client.Invoke(context.Background(), "echo", "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, call.StatusFailed, res.Status())
	assert.Equal(t, call.CodeScheduleRejected, res.Detail().Code)
	assert.Equal(t, "h", res.Host())
}

func TestServer_RequestTimeoutBoundsInvocation(t *testing.T) {
	_, nc := testutil.StartCommsServer(t)

	srv := NewServer(nc, transport.NewServant(newServingCore(t), "h"), ServerOptions{RequestTimeout: 50 * time.Millisecond})
	require.NoError(t, srv.Serve("echo"))
	defer srv.Close()

	res, err := NewClient(nc, nil, "", 5*time.Second).Invoke(context.Background(), "echo", "slow", nil)
	require.NoError(t, err)
	assert.Equal(t, call.StatusFailed, res.Status())
	assert.ErrorIs(t, res.Err(), call.ErrDeadlineExceeded)
}
