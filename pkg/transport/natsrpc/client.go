package natsrpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/commsutil"
	"github.com/morezero/callcore/pkg/serializer"
)

const clientLogPrefix = "natsrpc:client"

// Client invokes services of a remote core over COMMS. It implements
// call.Invoker.
type Client struct {
	nc      *comms.Conn
	ser     serializer.Serializer
	prefix  string
	timeout time.Duration
}

// NewClient creates a Client. A nil serializer selects JSON; timeout bounds
// requests whose ctx has no deadline.
func NewClient(nc *comms.Conn, ser serializer.Serializer, prefix string, timeout time.Duration) *Client {
	if ser == nil {
		ser = serializer.NewJSON()
	}
	if prefix == "" {
		prefix = commsutil.DefaultRPCPrefix
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{nc: nc, ser: ser, prefix: prefix, timeout: timeout}
}

func (c *Client) Invoke(ctx context.Context, serviceID, method string, params *call.Parameters) (*call.Result, error) {
	if params == nil {
		params = call.NewParameters()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	subject := commsutil.BuildServiceSubject(c.prefix, serviceID)
	msg, err := commsutil.EncodeMsg(ctx, c.ser, subject, params)
	if err != nil {
		return nil, &call.Error{Code: call.CodeInvalidArgument, Message: err.Error(), Err: err}
	}
	msg.Header.Set(commsutil.HeaderMethod, method)
	msg.Header.Set(commsutil.HeaderService, serviceID)

	reply, err := c.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, comms.ErrTimeout) {
			return nil, &call.Error{Code: call.CodeTimeout, Message: fmt.Sprintf("request to %s timed out", subject), Err: err}
		}
		if errors.Is(err, comms.ErrNoResponders) {
			return nil, &call.Error{
				Code:    call.CodeServiceNotFound,
				Message: fmt.Sprintf("no responders for %s on %s", serviceID, subject),
				Err:     err,
			}
		}
		return nil, &call.Error{
			Code:    call.CodeInternal,
			Message: fmt.Sprintf("%s - request to %s failed: %v", clientLogPrefix, subject, err),
			Err:     err,
		}
	}

	res := new(call.Result)
	if err := commsutil.DecodeMsg(ctx, reply, res, c.ser, serializer.NewJSON(), serializer.NewProtobuf()); err != nil {
		return nil, &call.Error{Code: call.CodeInternal, Message: err.Error(), Err: err}
	}
	return res, nil
}
