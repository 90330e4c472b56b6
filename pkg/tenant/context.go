// Package tenant resolves which tenant a request belongs to. An ordered chain
// of strategies extracts an identifier from the request, the resolver loads
// the tenant from a cache or the directory, and the result is attached to the
// request as an immutable Context.
package tenant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Plan is a tenant subscription tier
type Plan string

const (
	PlanBasic        Plan = "basic"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// Status is a tenant lifecycle status
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusInactive  Status = "inactive"
)

// Context is the resolved tenant attached to a request. It is shared
// read-only between pipeline stages and must not be mutated.
type Context struct {
	ID        string                 `json:"id"`
	Slug      string                 `json:"slug"`
	Domain    string                 `json:"domain,omitempty"`
	Subdomain string                 `json:"subdomain,omitempty"`
	Plan      Plan                   `json:"plan"`
	Features  map[string]Feature     `json:"features,omitempty"`
	Settings  map[string]interface{} `json:"settings,omitempty"`
	Status    Status                 `json:"status"`
}

// IsActive reports whether the tenant may serve requests
func (c *Context) IsActive() bool {
	return c.Status == StatusActive
}

// HasFeature reports whether the named feature is enabled for the tenant
func (c *Context) HasFeature(name string) bool {
	f, ok := c.Features[name]
	return ok && f.Enabled
}

// Feature is a licensed capability. In JSON it is either a boolean or an
// object with an "enabled" key plus feature-specific configuration.
type Feature struct {
	Enabled bool
	Config  map[string]interface{}
}

func (f Feature) MarshalJSON() ([]byte, error) {
	if len(f.Config) == 0 {
		return json.Marshal(f.Enabled)
	}
	obj := make(map[string]interface{}, len(f.Config)+1)
	for k, v := range f.Config {
		obj[k] = v
	}
	obj["enabled"] = f.Enabled
	return json.Marshal(obj)
}

func (f *Feature) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var enabled bool
		if err := json.Unmarshal(data, &enabled); err != nil {
			return fmt.Errorf("feature must be a boolean or an object: %w", err)
		}
		*f = Feature{Enabled: enabled}
		return nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	enabled, _ := obj["enabled"].(bool)
	delete(obj, "enabled")
	if len(obj) == 0 {
		obj = nil
	}
	*f = Feature{Enabled: enabled, Config: obj}
	return nil
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying the resolved tenant
func NewContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the resolved tenant, if any
func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(contextKey{}).(*Context)
	return tc, ok && tc != nil
}
