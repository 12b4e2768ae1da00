package call

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the outcome class of an invocation.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusRejected Status = "rejected"
)

// Result is the immutable envelope returned for every invocation.
type Result struct {
	status   Status
	host     string
	payload  any
	detail   *ErrorDetail
	cause    error
	duration time.Duration
}

// NewResult returns a successful result carrying payload.
func NewResult(payload any) *Result {
	return &Result{status: StatusOK, payload: payload}
}

// FailedResult returns a failed result for err. Errors that are not an
// *Error are reported as INVOCATION_FAILED.
func FailedResult(err error) *Result {
	if err == nil {
		err = NewError(CodeInvocationFailed, "invocation failed")
	}
	e := asError(err, CodeInvocationFailed)
	return &Result{status: StatusFailed, detail: e.Detail(), cause: e}
}

// RejectedResult returns a rejected result for a filter error. Errors that
// are not an *Error are reported as REJECTED.
func RejectedResult(err error) *Result {
	if err == nil {
		err = NewError(CodeRejected, "invocation rejected")
	}
	e := asError(err, CodeRejected)
	return &Result{status: StatusRejected, detail: e.Detail(), cause: e}
}

func (r *Result) Status() Status { return r.status }

// OK reports whether the invocation succeeded.
func (r *Result) OK() bool { return r.status == StatusOK }

func (r *Result) Payload() any { return r.payload }

// Host is the name of the host that produced the result.
func (r *Result) Host() string { return r.host }

// Detail returns the error detail, or nil for successful results.
func (r *Result) Detail() *ErrorDetail {
	if r.detail == nil {
		return nil
	}
	d := *r.detail
	return &d
}

// Duration is the time spent in the invocation, filters included.
func (r *Result) Duration() time.Duration { return r.duration }

// Err returns the typed error of a failed or rejected result, or nil.
func (r *Result) Err() error {
	if r.cause != nil {
		return r.cause
	}
	if r.detail == nil {
		return nil
	}
	return r.detail.toError()
}

// WithHost returns a copy of r stamped with host.
func (r *Result) WithHost(host string) *Result {
	c := *r
	c.host = host
	return &c
}

func (r *Result) withDuration(d time.Duration) *Result {
	c := *r
	c.duration = d
	return &c
}

// Decode converts the payload into v through its JSON form.
func (r *Result) Decode(v any) error {
	if r.payload == nil {
		return nil
	}
	data, err := json.Marshal(r.payload)
	if err != nil {
		return fmt.Errorf("result payload: %w", err)
	}
	return json.Unmarshal(data, v)
}

func (r *Result) String() string {
	if r.detail != nil {
		return fmt.Sprintf("Result{status=%s host=%s error=%s: %s}", r.status, r.host, r.detail.Code, r.detail.Message)
	}
	return fmt.Sprintf("Result{status=%s host=%s}", r.status, r.host)
}

type resultWire struct {
	Status     Status       `json:"status"`
	Host       string       `json:"host,omitempty"`
	Payload    any          `json:"payload,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
	DurationMs float64      `json:"durationMs"`
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultWire{
		Status:     r.status,
		Host:       r.host,
		Payload:    r.payload,
		Error:      r.detail,
		DurationMs: float64(r.duration) / float64(time.Millisecond),
	})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var w resultWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Status {
	case StatusOK, StatusFailed, StatusRejected:
	default:
		return fmt.Errorf("result: unknown status %q", w.Status)
	}
	*r = Result{
		status:   w.Status,
		host:     w.Host,
		payload:  w.Payload,
		detail:   w.Error,
		duration: time.Duration(w.DurationMs * float64(time.Millisecond)),
	}
	return nil
}
