package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/morezero/callcore/internal/config"
	"github.com/morezero/callcore/internal/server"
	"github.com/morezero/callcore/internal/services"
	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/commsutil"
	"github.com/morezero/callcore/pkg/serializer"
	"github.com/morezero/callcore/pkg/transport/grpcrpc"
	"github.com/morezero/callcore/pkg/transport/httprpc"
	"github.com/morezero/callcore/pkg/transport/jsonrpc"
	"github.com/morezero/callcore/pkg/transport/natsrpc"
)

// Transports the invoke command can use.
const (
	transportHTTP    = "http"
	transportJSONRPC = "jsonrpc"
	transportNATS    = "nats"
	transportGRPC    = "grpc"
)

type clientOptions struct {
	transport  string
	url        string
	serializer string
	timeout    time.Duration
}

func (o *clientOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.transport, "transport", transportHTTP, "Transport: http, jsonrpc, nats, grpc")
	cmd.Flags().StringVar(&o.url, "url", "", "Server address (default per transport, COMMS_URL for nats)")
	cmd.Flags().StringVar(&o.serializer, "serializer", serializer.JSONName, "Wire serializer: json, protobuf")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 30*time.Second, "Request timeout")
}

// address returns the target for the selected transport.
func (o *clientOptions) address(cfg *config.Config) string {
	if o.url != "" {
		return o.url
	}
	switch o.transport {
	case transportNATS:
		if cfg != nil && cfg.COMMSURL != "" {
			return cfg.COMMSURL
		}
		return "nats://127.0.0.1:4222"
	case transportGRPC:
		return "127.0.0.1:9090"
	default:
		return "http://127.0.0.1:8080"
	}
}

// newInvoker builds a remote invoker for the selected transport. The
// returned func releases its connection.
func newInvoker(o *clientOptions, cfg *config.Config) (call.Invoker, func(), error) {
	ser, err := serializer.NewRegistry().New(o.serializer, nil)
	if err != nil {
		return nil, nil, err
	}
	addr := o.address(cfg)
	hc := &http.Client{Timeout: o.timeout}

	switch o.transport {
	case transportHTTP:
		base := strings.TrimSuffix(addr, "/") + httprpc.DefaultBasePath
		return httprpc.NewClient(base, httprpc.WithHTTPClient(hc), httprpc.WithSerializer(ser)), func() {}, nil
	case transportJSONRPC:
		return jsonrpc.NewClient(strings.TrimSuffix(addr, "/")+server.JSONRPCPath, hc), func() {}, nil
	case transportNATS:
		nc, err := commsutil.Connect(addr, "callcore-cli")
		if err != nil {
			return nil, nil, err
		}
		prefix := commsutil.DefaultRPCPrefix
		if cfg != nil && cfg.SubjectPrefix != "" {
			prefix = cfg.SubjectPrefix
		}
		return natsrpc.NewClient(nc, ser, prefix, o.timeout), nc.Close, nil
	case transportGRPC:
		conn, err := grpcrpc.Dial(addr)
		if err != nil {
			return nil, nil, err
		}
		return grpcrpc.NewClient(conn, ser), func() { conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q (use http, jsonrpc, nats, grpc)", o.transport)
	}
}

// parseParams reads a JSON object of parameters and applies key=value
// context attributes.
func parseParams(raw string, attrs map[string]string) (*call.Parameters, error) {
	params := call.NewParameters()
	if strings.TrimSpace(raw) != "" {
		wire, err := json.Marshal(struct {
			Values json.RawMessage `json:"values"`
		}{json.RawMessage(raw)})
		if err != nil {
			return nil, fmt.Errorf("parse params: %w", err)
		}
		if err := json.Unmarshal(wire, params); err != nil {
			return nil, fmt.Errorf("parse params: %w", err)
		}
	}
	if len(attrs) > 0 {
		ic := params.WithContext()
		for k, v := range attrs {
			ic.Set(k, v)
		}
	}
	return params, nil
}

// invoke runs one invocation through a local core fronting the remote
// invoker, so async mode and the client-side timeout behave as they do
// in-process.
func invoke(ctx context.Context, inv call.Invoker, svc, method string, params *call.Parameters, async bool, timeout time.Duration) (*call.Result, error) {
	core, err := call.New(inv, call.WithHost("callcore-cli"))
	if err != nil {
		return nil, err
	}
	defer core.Close(context.Background())

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !async {
		return core.Invoke(ctx, svc, method, params), nil
	}
	f, err := core.InvokeAsync(ctx, svc, method, params)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

func printResult(w io.Writer, res *call.Result) error {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	if !res.OK() {
		return fmt.Errorf("invocation %s: %s", strings.ToLower(string(res.Status())), res.Err())
	}
	return nil
}

func invokeCmd() *cobra.Command {
	var (
		opts  clientOptions
		attrs map[string]string
		async bool
	)

	cmd := &cobra.Command{
		Use:   "invoke <service> <method> [params-json]",
		Short: "Invoke a service method on a running server",
		Example: `  callcore invoke echo echo '{"msg":"hi"}'
  callcore invoke system ping --transport nats --ctx userId=alice
  callcore invoke echo@1 sleep '{"duration":"2s"}' --async --transport grpc`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 3 {
				raw = args[2]
			}
			params, err := parseParams(raw, attrs)
			if err != nil {
				return err
			}

			cfg, _ := config.LoadConfig()
			inv, closeFn, err := newInvoker(&opts, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := invoke(cmd.Context(), inv, args[0], args[1], params, async, opts.timeout)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringToStringVar(&attrs, "ctx", nil, "Invoke context attributes (userId=alice,token=...)")
	cmd.Flags().BoolVar(&async, "async", false, "Invoke asynchronously and wait for the future")
	return cmd
}

func reportCmd() *cobra.Command {
	var opts clientOptions

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the call core report of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := config.LoadConfig()
			inv, closeFn, err := newInvoker(&opts, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := invoke(cmd.Context(), inv, services.SystemID, "report", nil, false, opts.timeout)
			if err != nil {
				return err
			}
			if !res.OK() {
				return printResult(cmd.OutOrStdout(), res)
			}
			var report call.Report
			if err := res.Decode(&report); err != nil {
				return fmt.Errorf("decode report: %w", err)
			}
			for _, line := range report.Lines() {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	opts.bind(cmd)
	return cmd
}
