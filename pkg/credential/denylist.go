package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgredis "github.com/prohmpiriya/membership-gateway/pkg/redis"
)

// Denylist records revoked token ids until their natural expiry. Claim
// revokes tokenID and reports whether this call was the one that did so;
// of any number of concurrent claims on one id exactly one returns true.
type Denylist interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Claim(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error)
}

// RedisDenylist stores revoked token ids as keys expiring with the token
type RedisDenylist struct {
	client *pkgredis.Client
	prefix string
	now    func() time.Time
}

// NewRedisDenylist creates a Redis-backed denylist
func NewRedisDenylist(client *pkgredis.Client) *RedisDenylist {
	return &RedisDenylist{
		client: client,
		prefix: "revoked:jti:",
		now:    time.Now,
	}
}

// Revoke denylists tokenID until expiresAt
func (d *RedisDenylist) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, d.prefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// Claim denylists tokenID with SET NX so only the first caller wins
func (d *RedisDenylist) Claim(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(d.now())
	if ttl <= 0 {
		return false, nil
	}
	claimed, err := d.client.SetNX(ctx, d.prefix+tokenID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim token: %w", err)
	}
	return claimed, nil
}

// IsRevoked reports whether tokenID is denylisted
func (d *RedisDenylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return n > 0, nil
}

// MemoryDenylist is an in-process denylist for single-instance deployments and tests
type MemoryDenylist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryDenylist creates an in-memory denylist
func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke denylists tokenID until expiresAt
func (d *MemoryDenylist) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return errors.New("token id is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepLocked()
	d.entries[tokenID] = expiresAt
	return nil
}

// Claim denylists tokenID unless it is already denylisted
func (d *MemoryDenylist) Claim(_ context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	if tokenID == "" {
		return false, errors.New("token id is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepLocked()
	if !expiresAt.After(d.now()) {
		return false, nil
	}
	if _, taken := d.entries[tokenID]; taken {
		return false, nil
	}
	d.entries[tokenID] = expiresAt
	return true, nil
}

func (d *MemoryDenylist) sweepLocked() {
	now := d.now()
	for id, exp := range d.entries {
		if !exp.After(now) {
			delete(d.entries, id)
		}
	}
}

// IsRevoked reports whether tokenID is denylisted
func (d *MemoryDenylist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	exp, ok := d.entries[tokenID]
	return ok && exp.After(d.now()), nil
}
