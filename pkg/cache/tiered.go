package cache

import (
	"context"
	"time"
)

// Tiered reads the local level first and falls through to the shared level,
// copying shared hits into the local level. Writes and deletes go to both.
type Tiered struct {
	local    Cache
	shared   Cache
	localTTL time.Duration
}

// NewTiered combines a local and a shared cache. localTTL caps how long a
// value copied up from the shared level lives locally, so invalidations that
// only reach the shared level still converge.
func NewTiered(local, shared Cache, localTTL time.Duration) *Tiered {
	return &Tiered{local: local, shared: shared, localTTL: localTTL}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := t.local.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = t.shared.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}

	_ = t.local.Set(ctx, key, val, t.localTTL)
	return val, true, nil
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	localTTL := ttl
	if t.localTTL > 0 && t.localTTL < ttl {
		localTTL = t.localTTL
	}
	if err := t.local.Set(ctx, key, value, localTTL); err != nil {
		return err
	}
	return t.shared.Set(ctx, key, value, ttl)
}

// Delete removes key from both levels. The local delete always happens even
// when the shared level fails.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	_ = t.local.Delete(ctx, key)
	return t.shared.Delete(ctx, key)
}
