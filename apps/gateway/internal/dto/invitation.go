package dto

import (
	"time"

	"github.com/prohmpiriya/membership-gateway/pkg/invitation"
)

// CreateInvitationRequest represents a request to invite someone to the tenant
type CreateInvitationRequest struct {
	Email      string `json:"email" binding:"omitempty,email,max=255"`
	Role       string `json:"role" binding:"required,oneof=member admin owner viewer"`
	TTLSeconds int64  `json:"ttl_seconds" binding:"omitempty,min=60,max=2592000"`
	MaxUses    int    `json:"max_uses" binding:"omitempty,min=0,max=10000"`
}

// TTL returns the requested lifetime, zero for the default
func (r *CreateInvitationRequest) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// RedeemInvitationRequest represents an invitation redemption
type RedeemInvitationRequest struct {
	Code  string `json:"code" binding:"required"`
	Email string `json:"email" binding:"required,email,max=255"`
}

// InvitationResponse represents an issued invitation
type InvitationResponse struct {
	Code      string `json:"code"`
	TenantID  string `json:"tenant_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	MaxUses   int    `json:"max_uses"`
	ExpiresAt string `json:"expires_at"`
	CreatedAt string `json:"created_at"`
}

// NewInvitationResponse converts an invitation to its response form
func NewInvitationResponse(inv *invitation.Invitation) *InvitationResponse {
	return &InvitationResponse{
		Code:      inv.Code,
		TenantID:  inv.TenantID,
		Email:     inv.Email,
		Role:      inv.Role,
		MaxUses:   inv.MaxUses,
		ExpiresAt: inv.ExpiresAt.Format(time.RFC3339),
		CreatedAt: inv.CreatedAt.Format(time.RFC3339),
	}
}
