package call

import (
	"context"
	"fmt"
)

// InvokeFilter gates an invocation based on its InvokeContext. A non-nil
// error rejects the invocation. Filters may stamp attributes onto the
// context and must be safe for concurrent use.
type InvokeFilter interface {
	Apply(ctx context.Context, ic *InvokeContext) error
}

// FilterFunc adapts a function to InvokeFilter.
type FilterFunc func(ctx context.Context, ic *InvokeContext) error

func (f FilterFunc) Apply(ctx context.Context, ic *InvokeContext) error {
	return f(ctx, ic)
}

// NamedFilter is implemented by filters that report a name in Report and
// in rejection details.
type NamedFilter interface {
	Name() string
}

type namedFunc struct {
	name string
	fn   FilterFunc
}

func (n namedFunc) Apply(ctx context.Context, ic *InvokeContext) error { return n.fn(ctx, ic) }
func (n namedFunc) Name() string                                       { return n.name }

// NewNamedFilter wraps fn in a filter with the given name.
func NewNamedFilter(name string, fn FilterFunc) InvokeFilter {
	return namedFunc{name: name, fn: fn}
}

// FilterName returns the filter's name or its type.
func FilterName(f InvokeFilter) string {
	if n, ok := f.(NamedFilter); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", f)
}

// Chain runs filters in registration order and stops at the first rejection.
type Chain []InvokeFilter

// Apply runs the chain against ic. A nil context is never passed to a
// filter; the chain passes without running in that case.
func (c Chain) Apply(ctx context.Context, ic *InvokeContext) error {
	if ic == nil {
		return nil
	}
	for _, f := range c {
		if err := f.Apply(ctx, ic); err != nil {
			e := asError(err, CodeRejected)
			if !rejectionCodes[e.Code] && e.Code != CodeInternal {
				e = &Error{Code: CodeRejected, Message: e.Message, Details: e.Details, Err: err}
			}
			if e.Details == nil {
				e = &Error{Code: e.Code, Message: e.Message, Details: map[string]any{"filter": FilterName(f)}, Err: e.Err}
			}
			return e
		}
	}
	return nil
}

// Names returns the filter names in order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, f := range c {
		names[i] = FilterName(f)
	}
	return names
}
