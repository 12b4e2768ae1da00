package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/morezero/callcore/internal/config"
	"github.com/morezero/callcore/internal/testutil"
	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/transport/grpcrpc"
	"github.com/morezero/callcore/pkg/transport/httprpc"
	"github.com/morezero/callcore/pkg/transport/natsrpc"
)

const serverTestPrefix = "server:server_test"

// testConfig returns a config with every optional backend disabled.
func testConfig() *config.Config {
	return &config.Config{
		COMMSName:          "callcore-test",
		SubjectPrefix:      "rpc",
		QueueGroup:         "callcore-test",
		RequestTimeout:     5 * time.Second,
		AsyncPoolSize:      4,
		AsyncQueueSize:     16,
		Serializer:         "json",
		Host:               "test-host",
		HTTPAddr:           "127.0.0.1:0",
		HealthCheckTimeout: 2 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		MetricsNamespace:   "callcore",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("%s - New: %v", serverTestPrefix, err)
	}
	t.Cleanup(func() { s.release(context.Background()) })
	return s
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("%s - listen: %v", serverTestPrefix, err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestHandler_Routes(t *testing.T) {
	s := newTestServer(t, testConfig())
	h, err := s.Handler()
	if err != nil {
		t.Fatalf("%s - Handler: %v", serverTestPrefix, err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/health", http.StatusOK, `"status":"healthy"`},
		{"/ready", http.StatusOK, `"ready"`},
		{"/report", http.StatusOK, `"host":"test-host"`},
		{"/", http.StatusOK, "echo"},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("%s - GET %s: %v", serverTestPrefix, tt.path, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.status {
				t.Errorf("%s - GET %s status = %d, want %d", serverTestPrefix, tt.path, resp.StatusCode, tt.status)
			}
			if tt.contains != "" && !strings.Contains(string(body), tt.contains) {
				t.Errorf("%s - GET %s body missing %q: %s", serverTestPrefix, tt.path, tt.contains, body)
			}
		})
	}
}

func TestHandler_InvokeAndMetrics(t *testing.T) {
	s := newTestServer(t, testConfig())
	h, err := s.Handler()
	if err != nil {
		t.Fatalf("%s - Handler: %v", serverTestPrefix, err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := httprpc.NewClient(srv.URL + httprpc.DefaultBasePath)
	res, err := client.Invoke(context.Background(), "echo", "echo", call.NewParameters().Set("msg", "hi"))
	if err != nil {
		t.Fatalf("%s - Invoke: %v", serverTestPrefix, err)
	}
	if !res.OK() {
		t.Fatalf("%s - echo failed: %+v", serverTestPrefix, res.Detail())
	}
	if res.Host() != "test-host" {
		t.Errorf("%s - host = %q, want test-host", serverTestPrefix, res.Host())
	}

	res, err = client.Invoke(context.Background(), "system", "report", nil)
	if err != nil {
		t.Fatalf("%s - Invoke report: %v", serverTestPrefix, err)
	}
	var report call.Report
	if err := res.Decode(&report); err != nil {
		t.Fatalf("%s - decode report: %v", serverTestPrefix, err)
	}
	if report.Pool.Workers != 4 {
		t.Errorf("%s - report workers = %d, want 4", serverTestPrefix, report.Pool.Workers)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("%s - GET /metrics: %v", serverTestPrefix, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"callcore_invocations_total", "callcore_pool_workers"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("%s - /metrics missing %s", serverTestPrefix, want)
		}
	}
}

func TestHandler_BodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPMaxBodyBytes = 64
	s := newTestServer(t, cfg)
	h, err := s.Handler()
	if err != nil {
		t.Fatalf("%s - Handler: %v", serverTestPrefix, err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	res, err := httprpc.NewClient(srv.URL+httprpc.DefaultBasePath).Invoke(context.Background(), "echo", "echo",
		call.NewParameters().Set("msg", strings.Repeat("x", 200)))
	if err != nil {
		t.Fatalf("%s - Invoke: %v", serverTestPrefix, err)
	}
	if res.OK() || res.Detail().Code != call.CodeInvalidArgument {
		t.Errorf("%s - oversized body result = %s", serverTestPrefix, res)
	}

	body := `{"jsonrpc":"2.0","method":"Call.Invoke","id":1,"params":[{"service":"echo","method":"echo","params":{"values":{"msg":"` + strings.Repeat("x", 200) + `"}}}]}`
	resp, err := http.Post(srv.URL+JSONRPCPath, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("%s - POST %s: %v", serverTestPrefix, JSONRPCPath, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(out), `"status":"ok"`) {
		t.Errorf("%s - oversized JSON-RPC body was served: %s", serverTestPrefix, out)
	}
}

func TestNew_InvalidSerializer(t *testing.T) {
	cfg := testConfig()
	cfg.Serializer = "xml"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("%s - expected error for unknown serializer", serverTestPrefix)
	}
}

func TestNew_UnknownFilter(t *testing.T) {
	cfg := testConfig()
	cfg.Filters = "trace,bogus"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("%s - expected error for unknown filter", serverTestPrefix)
	}
}

func TestServe_AllTransports(t *testing.T) {
	ns, nc := testutil.StartCommsServer(t)

	cfg := testConfig()
	cfg.COMMSURL = ns.ClientURL()
	cfg.GRPCPort = freePort(t)
	cfg.EventsEnabled = true

	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("%s - New: %v", serverTestPrefix, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - server not ready", serverTestPrefix)
	}

	completed, err := nc.SubscribeSync("rpc.completed")
	if err != nil {
		t.Fatalf("%s - subscribe: %v", serverTestPrefix, err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("%s - flush: %v", serverTestPrefix, err)
	}

	res, err := natsrpc.NewClient(nc, nil, "rpc", 5*time.Second).Invoke(context.Background(), "system", "ping", nil)
	if err != nil {
		t.Fatalf("%s - COMMS invoke: %v", serverTestPrefix, err)
	}
	var pong map[string]any
	if err := res.Decode(&pong); err != nil || pong["pong"] != true {
		t.Errorf("%s - ping payload = %v (err %v)", serverTestPrefix, pong, err)
	}

	msg, err := completed.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("%s - no completion event: %v", serverTestPrefix, err)
	}
	var ev map[string]any
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("%s - decode event: %v", serverTestPrefix, err)
	}

	conn, err := grpcrpc.Dial(s.GRPCAddr())
	if err != nil {
		t.Fatalf("%s - dial gRPC: %v", serverTestPrefix, err)
	}
	defer conn.Close()
	res, err = grpcrpc.NewClient(conn, nil).Invoke(context.Background(), "echo", "fail", call.NewParameters().Set("code", call.CodeForbidden))
	if err != nil {
		t.Fatalf("%s - gRPC invoke: %v", serverTestPrefix, err)
	}
	if res.Status() != call.StatusFailed || res.Detail().Code != call.CodeForbidden {
		t.Errorf("%s - fail result = %s %+v", serverTestPrefix, res.Status(), res.Detail())
	}

	resp, err := http.Get("http://" + s.HTTPAddr() + "/health")
	if err != nil {
		t.Fatalf("%s - GET /health: %v", serverTestPrefix, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `"comms":"ok"`) {
		t.Errorf("%s - health body = %s", serverTestPrefix, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("%s - Serve returned %v", serverTestPrefix, err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("%s - Serve did not return after cancel", serverTestPrefix)
	}
}
