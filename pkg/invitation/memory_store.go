package invitation

import (
	"context"
	"sync"
)

type memoryEntry struct {
	inv      Invitation
	redeemed map[string]string
}

// MemoryStore is an in-process Store for single-instance deployments and tests
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates a new MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Create(_ context.Context, inv *Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[inv.Code]; ok {
		return ErrExists
	}
	s.entries[inv.Code] = &memoryEntry{inv: *inv, redeemed: make(map[string]string)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, code string) (*Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[code]
	if !ok {
		return nil, ErrNotFound
	}
	inv := e.inv
	return &inv, nil
}

func (s *MemoryStore) Redeem(_ context.Context, req RedeemRequest) (*Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[req.Code]
	if !ok || e.inv.TenantID != req.TenantID {
		return nil, ErrNotFound
	}
	if !req.Now.Before(e.inv.ExpiresAt) {
		return nil, ErrExpired
	}
	if e.inv.Email != "" && e.inv.Email != normalizeEmail(req.Email) {
		return nil, ErrEmailMismatch
	}

	red := &Redemption{
		Code:     e.inv.Code,
		TenantID: e.inv.TenantID,
		Email:    normalizeEmail(req.Email),
		Role:     e.inv.Role,
	}

	// A key replays only for the address that first used it
	if prev, seen := e.redeemed[req.RedemptionKey]; seen {
		if prev != red.Email {
			return nil, ErrExhausted
		}
		red.Uses = e.inv.Uses
		red.Replayed = true
		return red, nil
	}
	if e.inv.MaxUses > 0 && e.inv.Uses >= e.inv.MaxUses {
		return nil, ErrExhausted
	}

	e.inv.Uses++
	e.redeemed[req.RedemptionKey] = red.Email
	red.Uses = e.inv.Uses
	return red, nil
}
