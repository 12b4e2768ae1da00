// Package natsrpc exposes a call core over COMMS (NATS) request/reply and
// provides a client that invokes a remote core the same way.
//
// A request is published to "<prefix>.<service id>" with the method in the
// Rpc-Method header, the full service reference (including any version
// range) in Rpc-Service, and the serialized Parameters as the body. The
// reply body is the serialized Result.
package natsrpc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/commsutil"
	"github.com/morezero/callcore/pkg/transport"
)

const logPrefix = "natsrpc:server"

const defaultRequestTimeout = 30 * time.Second

// ServerOptions configures a Server.
type ServerOptions struct {
	SubjectPrefix string
	QueueGroup    string
	// RequestTimeout bounds each invocation, including time spent queued
	// on the worker pool.
	RequestTimeout time.Duration
}

// Server answers RPC requests for a set of services.
type Server struct {
	nc      *comms.Conn
	servant *transport.Servant
	opts    ServerOptions

	mu   sync.Mutex
	subs []*comms.Subscription
}

// NewServer creates a Server. Call Serve to start answering.
func NewServer(nc *comms.Conn, servant *transport.Servant, opts ServerOptions) *Server {
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = commsutil.DefaultRPCPrefix
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	return &Server{nc: nc, servant: servant, opts: opts}
}

// Serve subscribes to the request subject of each service id.
func (s *Server) Serve(serviceIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range serviceIDs {
		subject := commsutil.BuildServiceSubject(s.opts.SubjectPrefix, id)
		handler := s.handler(id)

		var sub *comms.Subscription
		var err error
		if s.opts.QueueGroup != "" {
			sub, err = s.nc.QueueSubscribe(subject, s.opts.QueueGroup, handler)
		} else {
			sub, err = s.nc.Subscribe(subject, handler)
		}
		if err != nil {
			return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
		}
		s.subs = append(s.subs, sub)
		slog.Info(fmt.Sprintf("%s - Serving %s on %s", logPrefix, id, subject))
	}
	return s.nc.Flush()
}

func (s *Server) handler(serviceID string) comms.MsgHandler {
	return func(msg *comms.Msg) {
		if msg.Reply == "" {
			slog.Warn(fmt.Sprintf("%s - Dropping request on %s without reply subject", logPrefix, msg.Subject))
			return
		}

		method, ref, ct := "", serviceID, ""
		if msg.Header != nil {
			method = msg.Header.Get(commsutil.HeaderMethod)
			if h := msg.Header.Get(commsutil.HeaderService); h != "" {
				ref = h
			}
			ct = msg.Header.Get(commsutil.HeaderContentType)
		}

		// The subscription delivers messages one at a time, so the
		// invocation runs on the worker pool and replies from there.
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
		defer cancel()
		s.servant.ServeAsync(ctx, s.servant.Serializer(ct), ref, method, bytes.NewReader(msg.Data), func(res *call.Result) {
			s.respond(context.Background(), msg, res)
		})
	}
}

func (s *Server) respond(ctx context.Context, req *comms.Msg, res *call.Result) {
	ct := ""
	if req.Header != nil {
		ct = req.Header.Get(commsutil.HeaderContentType)
	}
	ser := s.servant.Serializer(ct)

	reply, err := commsutil.EncodeMsg(ctx, ser, req.Reply, res)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - Failed to encode reply: %v", logPrefix, err))
		reply, err = commsutil.EncodeMsg(ctx, ser, req.Reply, call.FailedResult(call.NewError(call.CodeInternal, "result could not be encoded")))
		if err != nil {
			return
		}
	}
	if err := req.RespondMsg(reply); err != nil {
		slog.Error(fmt.Sprintf("%s - Failed to respond on %s: %v", logPrefix, req.Reply, err))
	}
}

// Close unsubscribes from all request subjects.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.subs = nil
	return firstErr
}
