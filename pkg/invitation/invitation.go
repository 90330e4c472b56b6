// Package invitation issues tenant invitation codes and redeems them
// idempotently. A redemption carries a caller-chosen key; presenting the same
// key again returns the original outcome without consuming another use.
package invitation

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// codePattern matches the 22-character base64url codes issued by the codec
var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{22}$`)

// ValidCode reports whether code has the shape of an issued invitation code
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// Invitation grants a role in a tenant to whoever redeems it
type Invitation struct {
	Code     string `json:"code"`
	TenantID string `json:"tenantId"`
	// Email binds the invitation to one address when set
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
	// MaxUses of zero is unlimited
	MaxUses   int       `json:"maxUses"`
	Uses      int       `json:"uses"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Redemption is the outcome of a successful redeem
type Redemption struct {
	Code     string `json:"code"`
	TenantID string `json:"tenantId"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Uses     int    `json:"uses"`
	// Replayed is true when the redemption key had already been used
	Replayed bool `json:"replayed"`
}

// RedeemRequest identifies a redemption attempt
type RedeemRequest struct {
	TenantID      string
	Code          string
	Email         string
	RedemptionKey string
	Now           time.Time
}

// Redemption failures reported by a Store
var (
	ErrNotFound      = errors.New("invitation not found")
	ErrExpired       = errors.New("invitation expired")
	ErrExhausted     = errors.New("invitation exhausted")
	ErrEmailMismatch = errors.New("invitation email mismatch")
	ErrExists        = errors.New("invitation already exists")
)

// Store persists invitations. Redeem must perform its checks and the use
// increment atomically.
type Store interface {
	Create(ctx context.Context, inv *Invitation) error
	Get(ctx context.Context, code string) (*Invitation, error)
	Redeem(ctx context.Context, req RedeemRequest) (*Redemption, error)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
