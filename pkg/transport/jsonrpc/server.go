// Package jsonrpc exposes a call core as a JSON-RPC 2.0 service over HTTP
// and provides a client that invokes a remote core the same way.
//
// The service is registered as "Call"; its single method "Call.Invoke"
// takes {"service", "method", "params"} and answers {"result": Result}.
// Invocation failures travel inside the Result; JSON-RPC errors are only
// used for malformed requests.
package jsonrpc

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/transport"
)

const logPrefix = "jsonrpc:server"

// ServiceName is the JSON-RPC service name the core is registered under.
const ServiceName = "Call"

// MethodInvoke is the fully qualified JSON-RPC method.
const MethodInvoke = ServiceName + ".Invoke"

// InvokeReply is the JSON-RPC result of Call.Invoke.
type InvokeReply struct {
	Result *call.Result `json:"result"`
}

// Service is the gorilla RPC receiver for the core.
type Service struct {
	servant *transport.Servant
}

// Invoke runs args.Service.args.Method with args.Params.
func (s *Service) Invoke(r *http.Request, args *transport.Request, reply *InvokeReply) error {
	if args == nil {
		return &json2.Error{Code: json2.E_INVALID_REQ, Message: "missing params"}
	}
	params := args.Params
	if params == nil {
		params = call.NewParameters()
	}
	reply.Result = s.servant.Invoke(r.Context(), args.Service, args.Method, params)
	if !reply.Result.OK() {
		slog.Debug(fmt.Sprintf("%s - %s.%s: %s", logPrefix, args.Service, args.Method, reply.Result))
	}
	return nil
}

// NewHandler returns an http.Handler serving the Call service.
func NewHandler(servant *transport.Servant) (http.Handler, error) {
	if servant == nil {
		return nil, errors.New(logPrefix + " - servant is required")
	}
	srv := rpc.NewServer()
	srv.RegisterCodec(json2.NewCodec(), "application/json")
	if err := srv.RegisterService(&Service{servant: servant}, ServiceName); err != nil {
		return nil, fmt.Errorf("%s - failed to register service: %w", logPrefix, err)
	}
	return srv, nil
}
