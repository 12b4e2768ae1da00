package call

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Parameters is an ordered bag of named invocation arguments with an
// optional InvokeContext. Iteration and encoding follow insertion order;
// setting an existing key keeps its original position.
//
// Parameters are not safe for concurrent mutation. Once handed to Invoke
// they must be treated as read-only by the caller.
type Parameters struct {
	keys   []string
	values map[string]any
	ctx    *InvokeContext
}

// NewParameters returns an empty parameter bag without a context.
func NewParameters() *Parameters {
	return &Parameters{values: make(map[string]any)}
}

// Set stores value under key and returns p for chaining.
func (p *Parameters) Set(key string, value any) *Parameters {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Get returns the value for key.
func (p *Parameters) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is present.
func (p *Parameters) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// GetString returns the value for key rendered as a string, or def when
// absent or nil.
func (p *Parameters) GetString(key, def string) string {
	v, ok := p.Get(key)
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// GetInt returns the value for key as an int, or def when absent or not
// convertible.
func (p *Parameters) GetInt(key string, def int) int {
	v, ok := p.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(f)
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// GetBool returns the value for key as a bool, or def when absent or not
// convertible.
func (p *Parameters) GetBool(key string, def bool) bool {
	v, ok := p.Get(key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}

// GetDuration returns the value for key as a duration. Strings are parsed
// with time.ParseDuration and numbers are taken as milliseconds.
func (p *Parameters) GetDuration(key string, def time.Duration) time.Duration {
	v, ok := p.Get(key)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
		return def
	}
	if ms := p.GetInt(key, -1); ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

// Delete removes key.
func (p *Parameters) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (p *Parameters) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of parameters.
func (p *Parameters) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Range calls fn for each parameter in insertion order until fn returns false.
func (p *Parameters) Range(fn func(key string, value any) bool) {
	if p == nil {
		return
	}
	for _, k := range p.keys {
		if !fn(k, p.values[k]) {
			return
		}
	}
}

// Values returns a copy of the parameters as a map.
func (p *Parameters) Values() map[string]any {
	out := make(map[string]any, p.Len())
	p.Range(func(k string, v any) bool {
		out[k] = v
		return true
	})
	return out
}

// Context returns the attached InvokeContext, or nil.
func (p *Parameters) Context() *InvokeContext {
	if p == nil {
		return nil
	}
	return p.ctx
}

// SetContext attaches ic and returns p for chaining.
func (p *Parameters) SetContext(ic *InvokeContext) *Parameters {
	p.ctx = ic
	return p
}

// WithContext returns the attached context, creating an empty one first
// when none is attached.
func (p *Parameters) WithContext() *InvokeContext {
	if p.ctx == nil {
		p.ctx = NewInvokeContext()
	}
	return p.ctx
}

// Clone returns a copy with its own key order and context. Values are
// copied shallowly.
func (p *Parameters) Clone() *Parameters {
	out := NewParameters()
	p.Range(func(k string, v any) bool {
		out.Set(k, v)
		return true
	})
	if ic := p.Context(); ic != nil {
		out.ctx = ic.Clone()
	}
	return out
}

// MarshalJSON encodes {"values":{...},"context":{...}} with values in
// insertion order. The context member is omitted when no context is set.
func (p *Parameters) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"values":{`)
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	if p.ctx != nil {
		ic, err := p.ctx.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"context":`)
		buf.Write(ic)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the form written by MarshalJSON, keeping the order
// in which values appear. Numbers decode as json.Number.
func (p *Parameters) UnmarshalJSON(data []byte) error {
	var wire struct {
		Values  json.RawMessage `json:"values"`
		Context *InvokeContext  `json:"context"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	p.keys = nil
	p.values = make(map[string]any)
	p.ctx = wire.Context

	raw := bytes.TrimSpace(wire.Values)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("parameters: values must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("parameters: unexpected token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("parameters: value of %q: %w", key, err)
		}
		p.Set(key, v)
	}
	_, err = dec.Token()
	return err
}
