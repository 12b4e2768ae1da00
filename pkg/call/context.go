package call

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Well-known InvokeContext attribute keys.
const (
	AttrUserID    = "userId"
	AttrTenantID  = "tenantId"
	AttrRequestID = "requestId"
	AttrTraceID   = "traceId"
	AttrToken     = "token"
	AttrRoles     = "roles"
)

// InvokeContext carries caller identity and request metadata alongside the
// parameters of an invocation. Filters read and stamp it. It is safe for
// concurrent use.
type InvokeContext struct {
	mu    sync.RWMutex
	attrs map[string]string
}

// NewInvokeContext returns an empty context.
func NewInvokeContext() *InvokeContext {
	return &InvokeContext{attrs: make(map[string]string)}
}

// Get returns the attribute value or "" when absent.
func (c *InvokeContext) Get(key string) string {
	v, _ := c.Lookup(key)
	return v
}

// Lookup returns the attribute value and whether it was present. A nil
// context has no attributes.
func (c *InvokeContext) Lookup(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.attrs[key]
	return v, ok
}

// Has reports whether key is set.
func (c *InvokeContext) Has(key string) bool {
	_, ok := c.Lookup(key)
	return ok
}

// Set stores an attribute and returns the context for chaining.
func (c *InvokeContext) Set(key, value string) *InvokeContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attrs == nil {
		c.attrs = make(map[string]string)
	}
	c.attrs[key] = value
	return c
}

// SetIfAbsent stores value only when key is not already set. It reports
// whether the value was stored.
func (c *InvokeContext) SetIfAbsent(key, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attrs == nil {
		c.attrs = make(map[string]string)
	}
	if _, ok := c.attrs[key]; ok {
		return false
	}
	c.attrs[key] = value
	return true
}

// Delete removes an attribute.
func (c *InvokeContext) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attrs, key)
}

// Len returns the number of attributes.
func (c *InvokeContext) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.attrs)
}

// Attributes returns a copy of all attributes.
func (c *InvokeContext) Attributes() map[string]string {
	if c == nil {
		return map[string]string{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.attrs))
	for k, v := range c.attrs {
		out[k] = v
	}
	return out
}

// Keys returns the attribute keys in sorted order.
func (c *InvokeContext) Keys() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *InvokeContext) UserID() string    { return c.Get(AttrUserID) }
func (c *InvokeContext) TenantID() string  { return c.Get(AttrTenantID) }
func (c *InvokeContext) RequestID() string { return c.Get(AttrRequestID) }
func (c *InvokeContext) TraceID() string   { return c.Get(AttrTraceID) }

// Roles returns the comma separated roles attribute as a slice.
func (c *InvokeContext) Roles() []string {
	raw := c.Get(AttrRoles)
	if raw == "" {
		return nil
	}
	var roles []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// Clone returns an independent copy.
func (c *InvokeContext) Clone() *InvokeContext {
	return &InvokeContext{attrs: c.Attributes()}
}

// MarshalJSON encodes the context as a flat JSON object.
func (c *InvokeContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Attributes())
}

// UnmarshalJSON decodes a flat JSON object of string values.
func (c *InvokeContext) UnmarshalJSON(data []byte) error {
	attrs := make(map[string]string)
	if err := json.Unmarshal(data, &attrs); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs = attrs
	return nil
}
