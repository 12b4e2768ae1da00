package httprpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/serializer"
)

const clientLogPrefix = "httprpc:client"

const defaultClientTimeout = 30 * time.Second

// Client invokes services of a remote core over HTTP. It implements
// call.Invoker.
type Client struct {
	baseURL string
	ser     serializer.Serializer
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithSerializer selects the request serializer (JSON by default).
func WithSerializer(s serializer.Serializer) ClientOption {
	return func(c *Client) { c.ser = s }
}

// NewClient creates a Client for the core at baseURL, e.g.
// "http://host:8080/rpc".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		ser:     serializer.NewJSON(),
		http:    &http.Client{Timeout: defaultClientTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Invoke(ctx context.Context, serviceID, method string, params *call.Parameters) (*call.Result, error) {
	if params == nil {
		params = call.NewParameters()
	}
	body, err := serializer.Marshal(ctx, c.ser, params)
	if err != nil {
		return nil, &call.Error{Code: call.CodeInvalidArgument, Message: err.Error(), Err: err}
	}

	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(serviceID), url.PathEscape(method))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &call.Error{Code: call.CodeInvalidArgument, Message: err.Error(), Err: err}
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", c.ser.ContentType())
	req.Header.Set("Accept", c.ser.ContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &call.Error{Code: call.CodeTimeout, Message: fmt.Sprintf("request to %s timed out", endpoint), Err: err}
		}
		if errors.Is(err, context.Canceled) {
			return nil, &call.Error{Code: call.CodeCancelled, Message: "request cancelled", Err: err}
		}
		return nil, &call.Error{
			Code:    call.CodeInternal,
			Message: fmt.Sprintf("%s - request to %s failed: %v", clientLogPrefix, endpoint, err),
			Err:     err,
		}
	}
	defer cleanlyCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		code := call.CodeInternal
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
			code = call.CodeServiceNotFound
		}
		return nil, &call.Error{
			Code:    code,
			Message: fmt.Sprintf("%s - %s returned %d: %s", clientLogPrefix, endpoint, resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	ser := serializer.ForContentType(resp.Header.Get("Content-Type"), c.ser, serializer.NewJSON(), serializer.NewProtobuf())
	res := new(call.Result)
	if err := ser.Decode(ctx, resp.Body, res); err != nil {
		return nil, &call.Error{Code: call.CodeInternal, Message: err.Error(), Err: err}
	}
	return res, nil
}

// cleanlyCloseBody drains and closes a response body so the connection can
// be reused.
func cleanlyCloseBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
