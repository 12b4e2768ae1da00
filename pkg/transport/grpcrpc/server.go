// Package grpcrpc exposes a call core as a single unary gRPC method and
// provides a client that invokes a remote core the same way.
//
// The method /callcore.Invoker/Invoke carries serialized Parameters in and
// a serialized Result out as raw frames. Service, method and serializer
// travel as metadata (rpc-service, rpc-method, rpc-content-type), so any
// serializer the core knows can be used without generated stubs.
package grpcrpc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/morezero/callcore/pkg/transport"
)

const logPrefix = "grpcrpc:server"

// Metadata keys.
const (
	MDService     = "rpc-service"
	MDMethod      = "rpc-method"
	MDContentType = "rpc-content-type"
)

const (
	ServiceName = "callcore.Invoker"
	FullMethod  = "/" + ServiceName + "/Invoke"
)

// InvokerServer is the server side of the Invoker service.
type InvokerServer interface {
	InvokeFrame(ctx context.Context, in *Frame) (*Frame, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InvokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "callcore/invoker",
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InvokerServer).InvokeFrame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InvokerServer).InvokeFrame(ctx, req.(*Frame))
	}
	return interceptor(ctx, in, info, handler)
}

// Server answers Invoke calls through a Servant.
type Server struct {
	servant *transport.Servant
}

// Register registers the Invoker service on gs.
func Register(gs grpc.ServiceRegistrar, servant *transport.Servant) *Server {
	s := &Server{servant: servant}
	gs.RegisterService(&serviceDesc, s)
	return s
}

// NewGRPCServer returns a grpc.Server with the logging interceptor and the
// Invoker service registered.
func NewGRPCServer(servant *transport.Servant, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(loggingInterceptor)}, opts...)
	gs := grpc.NewServer(opts...)
	Register(gs, servant)
	return gs
}

func (s *Server) InvokeFrame(ctx context.Context, in *Frame) (*Frame, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	service := first(md, MDService)
	method := first(md, MDMethod)
	ser := s.servant.Serializer(first(md, MDContentType))

	res := s.servant.Serve(ctx, ser, service, method, bytes.NewReader(in.Data))

	var buf bytes.Buffer
	if err := s.servant.EncodeResult(ctx, ser, &buf, res); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if err := grpc.SetHeader(ctx, metadata.Pairs(MDContentType, ser.ContentType())); err != nil {
		slog.Debug(fmt.Sprintf("%s - set header: %v", logPrefix, err))
	}
	return &Frame{Data: buf.Bytes()}, nil
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %s failed after %s: %v", logPrefix, info.FullMethod, time.Since(start), err))
	} else {
		slog.Debug(fmt.Sprintf("%s - %s completed in %s", logPrefix, info.FullMethod, time.Since(start)))
	}
	return resp, err
}
