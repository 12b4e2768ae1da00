package grpcrpc

import (
	"bytes"
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/serializer"
)

const clientLogPrefix = "grpcrpc:client"

// Dial opens a client connection to target. Without options the connection
// is insecure.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s - dial %s: %w", clientLogPrefix, target, err)
	}
	return conn, nil
}

// Client invokes services of a remote core over gRPC. It implements
// call.Invoker.
type Client struct {
	conn grpc.ClientConnInterface
	ser  serializer.Serializer
}

// NewClient creates a Client. A nil serializer selects JSON.
func NewClient(conn grpc.ClientConnInterface, ser serializer.Serializer) *Client {
	if ser == nil {
		ser = serializer.NewJSON()
	}
	return &Client{conn: conn, ser: ser}
}

func (c *Client) Invoke(ctx context.Context, serviceID, method string, params *call.Parameters) (*call.Result, error) {
	if params == nil {
		params = call.NewParameters()
	}
	body, err := serializer.Marshal(ctx, c.ser, params)
	if err != nil {
		return nil, &call.Error{Code: call.CodeInvalidArgument, Message: err.Error(), Err: err}
	}

	ctx = metadata.AppendToOutgoingContext(ctx,
		MDService, serviceID,
		MDMethod, method,
		MDContentType, c.ser.ContentType(),
	)

	var header metadata.MD
	out := new(Frame)
	err = c.conn.Invoke(ctx, FullMethod, &Frame{Data: body}, out,
		grpc.CallContentSubtype(codecName),
		grpc.Header(&header),
	)
	if err != nil {
		return nil, fromStatus(serviceID, err)
	}

	ser := serializer.ForContentType(first(header, MDContentType), c.ser, serializer.NewJSON(), serializer.NewProtobuf())
	res := new(call.Result)
	if err := ser.Decode(ctx, bytes.NewReader(out.Data), res); err != nil {
		return nil, &call.Error{Code: call.CodeInternal, Message: err.Error(), Err: err}
	}
	return res, nil
}

func fromStatus(serviceID string, err error) *call.Error {
	st, _ := status.FromError(err)
	code := call.CodeInternal
	switch st.Code() {
	case codes.DeadlineExceeded:
		code = call.CodeTimeout
	case codes.Canceled:
		code = call.CodeCancelled
	case codes.Unimplemented:
		code = call.CodeServiceNotFound
	case codes.InvalidArgument:
		code = call.CodeInvalidArgument
	}
	return &call.Error{
		Code:    code,
		Message: fmt.Sprintf("%s - invoke %s: %s", clientLogPrefix, serviceID, st.Message()),
		Err:     err,
	}
}
