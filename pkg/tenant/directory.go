package tenant

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by a Directory when no tenant matches
var ErrNotFound = errors.New("tenant not found")

// Directory is the authoritative tenant store
type Directory interface {
	Lookup(ctx context.Context, id Identifier) (*Context, error)
}

// MemoryDirectory is an in-process Directory for development and tests
type MemoryDirectory struct {
	mu      sync.RWMutex
	tenants map[string]*Context
}

// NewMemoryDirectory creates a directory seeded with tenants
func NewMemoryDirectory(tenants ...*Context) *MemoryDirectory {
	d := &MemoryDirectory{tenants: make(map[string]*Context, len(tenants))}
	for _, tc := range tenants {
		d.Put(tc)
	}
	return d
}

// Put adds or replaces a tenant
func (d *MemoryDirectory) Put(tc *Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[tc.ID] = tc
}

// Remove deletes a tenant by id
func (d *MemoryDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tenants, id)
}

// Lookup finds a tenant matching the identifier
func (d *MemoryDirectory) Lookup(ctx context.Context, id Identifier) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if id.Kind == KindID {
		if tc, ok := d.tenants[id.Value]; ok {
			return clone(tc), nil
		}
		return nil, ErrNotFound
	}

	for _, tc := range d.tenants {
		if matches(tc, id) {
			return clone(tc), nil
		}
	}
	return nil, ErrNotFound
}

func matches(tc *Context, id Identifier) bool {
	switch id.Kind {
	case KindSlug:
		return tc.Slug == id.Value
	case KindSubdomain:
		return tc.Subdomain == id.Value || tc.Slug == id.Value
	case KindDomain:
		return tc.Domain != "" && tc.Domain == id.Value
	case KindRef:
		return tc.ID == id.Value || tc.Slug == id.Value
	}
	return false
}

func clone(tc *Context) *Context {
	out := *tc
	if tc.Features != nil {
		out.Features = make(map[string]Feature, len(tc.Features))
		for k, v := range tc.Features {
			out.Features[k] = v
		}
	}
	if tc.Settings != nil {
		out.Settings = make(map[string]interface{}, len(tc.Settings))
		for k, v := range tc.Settings {
			out.Settings[k] = v
		}
	}
	return &out
}
