package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/dispatcher"
)

func newCore(t *testing.T) *call.Call {
	t.Helper()
	d := dispatcher.NewDispatcher()
	var c *call.Call
	require.NoError(t, Register(d, SystemDeps{
		Host:   "test-host",
		Report: func() call.Report { return c.Report() },
	}))
	var err error
	c, err = call.New(d, call.WithHost("test-host"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestEcho(t *testing.T) {
	c := newCore(t)

	res := c.Invoke(context.Background(), EchoID, "echo", call.NewParameters().Set("a", "b"))
	require.True(t, res.OK(), "result: %s", res)
	assert.Equal(t, map[string]any{"a": "b"}, res.Payload())
}

func TestSleep(t *testing.T) {
	c := newCore(t)

	res := c.Invoke(context.Background(), EchoID, "sleep", call.NewParameters().Set("duration", "10ms"))
	require.True(t, res.OK(), "result: %s", res)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res = c.Invoke(ctx, EchoID, "sleep", call.NewParameters().Set("duration", "1s"))
	assert.Equal(t, call.StatusFailed, res.Status())
	assert.Equal(t, call.CodeDeadlineExceeded, res.Detail().Code)

	res = c.Invoke(context.Background(), EchoID, "sleep", call.NewParameters().Set("duration", "1h"))
	assert.Equal(t, call.CodeInvalidArgument, res.Detail().Code)
}

func TestFail(t *testing.T) {
	c := newCore(t)

	res := c.Invoke(context.Background(), EchoID, "fail", nil)
	assert.Equal(t, call.StatusFailed, res.Status())
	assert.Equal(t, call.CodeInvocationFailed, res.Detail().Code)
	assert.Equal(t, "requested failure", res.Detail().Message)

	res = c.Invoke(context.Background(), EchoID, "fail", call.NewParameters().Set("code", "CUSTOM").Set("message", "nope"))
	assert.Equal(t, "CUSTOM", res.Detail().Code)
	assert.Equal(t, "nope", res.Detail().Message)
}

func TestSystem(t *testing.T) {
	c := newCore(t)

	params := call.NewParameters()
	params.WithContext().Set(call.AttrUserID, "u1")
	res := c.Invoke(context.Background(), SystemID, "ping", params)
	require.True(t, res.OK(), "result: %s", res)
	var ping struct {
		Pong   bool   `json:"pong"`
		Host   string `json:"host"`
		UserID string `json:"userId"`
	}
	require.NoError(t, res.Decode(&ping))
	assert.True(t, ping.Pong)
	assert.Equal(t, "test-host", ping.Host)
	assert.Equal(t, "u1", ping.UserID)

	res = c.Invoke(context.Background(), SystemID, "report", nil)
	require.True(t, res.OK(), "result: %s", res)
	report, ok := res.Payload().(call.Report)
	require.True(t, ok)
	assert.Equal(t, "test-host", report.Host)

	res = c.Invoke(context.Background(), SystemID, "services", nil)
	require.True(t, res.OK())
	infos, ok := res.Payload().([]dispatcher.ServiceInfo)
	require.True(t, ok)
	require.Len(t, infos, 2)
	assert.Equal(t, EchoID, infos[0].ID)
	assert.Equal(t, SystemID, infos[1].ID)
}

func TestSystem_Unavailable(t *testing.T) {
	svc := System(SystemDeps{})
	_, err := svc.Methods["report"](context.Background(), call.NewParameters())
	assert.ErrorIs(t, err, call.NewError(call.CodeInternal, ""))
}
