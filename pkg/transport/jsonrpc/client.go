package jsonrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/rpc/v2/json2"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/transport"
)

const clientLogPrefix = "jsonrpc:client"

// Client invokes services of a remote core over JSON-RPC 2.0. It
// implements call.Invoker.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a Client for the JSON-RPC endpoint. A nil hc selects a
// client with a 30 second timeout.
func NewClient(endpoint string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{endpoint: endpoint, http: hc}
}

func (c *Client) Invoke(ctx context.Context, serviceID, method string, params *call.Parameters) (*call.Result, error) {
	body, err := json2.EncodeClientRequest(MethodInvoke, &transport.Request{
		Service: serviceID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, &call.Error{Code: call.CodeInvalidArgument, Message: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &call.Error{Code: call.CodeInvalidArgument, Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &call.Error{Code: call.CodeTimeout, Message: fmt.Sprintf("request to %s timed out", c.endpoint), Err: err}
		case errors.Is(err, context.Canceled):
			return nil, &call.Error{Code: call.CodeCancelled, Message: "request cancelled", Err: err}
		}
		return nil, &call.Error{
			Code:    call.CodeInternal,
			Message: fmt.Sprintf("%s - request to %s failed: %v", clientLogPrefix, c.endpoint, err),
			Err:     err,
		}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &call.Error{
			Code:    call.CodeInternal,
			Message: fmt.Sprintf("%s - %s returned status %d", clientLogPrefix, c.endpoint, resp.StatusCode),
		}
	}

	var reply InvokeReply
	if err := json2.DecodeClientResponse(resp.Body, &reply); err != nil {
		var rpcErr *json2.Error
		if errors.As(err, &rpcErr) {
			return nil, &call.Error{Code: call.CodeInvalidArgument, Message: rpcErr.Message, Err: err}
		}
		return nil, &call.Error{Code: call.CodeInternal, Message: err.Error(), Err: err}
	}
	if reply.Result == nil {
		return nil, call.NewError(call.CodeInternal, "empty JSON-RPC result")
	}
	return reply.Result, nil
}
