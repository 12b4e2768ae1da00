// Package httprpc exposes a call core over plain HTTP and provides a client
// that invokes a remote core the same way.
//
// A request is POST /rpc/{service}/{method} with the serialized Parameters
// as the body. The Content-Type header selects the serializer for both the
// request and the reply. The reply body is the serialized Result; the HTTP
// status is 200 whenever a Result could be produced.
package httprpc

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/transport"
)

const logPrefix = "httprpc:handler"

// DefaultBasePath is the route prefix used when none is configured.
const DefaultBasePath = "/rpc"

// HeaderStatus carries the Result status so callers can branch without
// decoding the body.
const HeaderStatus = "Rpc-Status"

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 4 << 20

// Handler serves RPC requests.
type Handler struct {
	servant      *transport.Servant
	mux          *http.ServeMux
	maxBodyBytes int64
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMaxBodyBytes caps the request body. Larger bodies are answered with
// an INVALID_ARGUMENT result. n <= 0 keeps the default.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandler creates a Handler mounted under basePath ("" selects /rpc).
func NewHandler(servant *transport.Servant, basePath string, opts ...HandlerOption) *Handler {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	h := &Handler{servant: servant, mux: http.NewServeMux(), maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(h)
	}
	h.mux.HandleFunc(fmt.Sprintf("POST %s/{service}/{method}", basePath), h.handleInvoke)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	ser := h.servant.Serializer(r.Header.Get("Content-Type"))
	service := r.PathValue("service")
	method := r.PathValue("method")

	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	res := h.servant.Serve(r.Context(), ser, service, method, body)
	var tooLarge *http.MaxBytesError
	if errors.As(res.Err(), &tooLarge) {
		res = call.FailedResult(call.Errorf(call.CodeInvalidArgument, "request body exceeds %d bytes", tooLarge.Limit)).WithHost(res.Host())
	}

	var buf bytes.Buffer
	if err := h.servant.EncodeResult(r.Context(), ser, &buf, res); err != nil {
		slog.Error(fmt.Sprintf("%s - %s.%s: %v", logPrefix, service, method, err))
		http.Error(w, "result could not be encoded", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ser.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set(HeaderStatus, string(res.Status()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Debug(fmt.Sprintf("%s - write reply for %s.%s: %v", logPrefix, service, method, err))
	}
}

// StatusOf maps a Result to the HTTP status a gateway would use if it
// unwrapped the envelope.
func StatusOf(res *call.Result) int {
	if res.OK() {
		return http.StatusOK
	}
	d := res.Detail()
	if d == nil {
		return http.StatusInternalServerError
	}
	switch d.Code {
	case call.CodeUnauthenticated:
		return http.StatusUnauthorized
	case call.CodeForbidden, call.CodeRejected:
		return http.StatusForbidden
	case call.CodeRateLimited, call.CodeScheduleRejected:
		return http.StatusTooManyRequests
	case call.CodeServiceNotFound, call.CodeMethodNotFound:
		return http.StatusNotFound
	case call.CodeInvalidArgument:
		return http.StatusBadRequest
	case call.CodeTimeout, call.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
