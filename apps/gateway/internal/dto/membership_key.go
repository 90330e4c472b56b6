package dto

import (
	"time"

	"github.com/prohmpiriya/membership-gateway/pkg/membershipkey"
)

// IssueMembershipKeyRequest represents a request for a tiered membership key
type IssueMembershipKeyRequest struct {
	Tier         string     `json:"tier" binding:"required"`
	Name         string     `json:"name" binding:"omitempty,max=255"`
	RegisteredAt *time.Time `json:"registered_at"`
}

// MembershipKeyResponse carries a key, what it encodes and its QR payload
type MembershipKeyResponse struct {
	Key  string                `json:"key"`
	Info *membershipkey.Info   `json:"info"`
	QR   *membershipkey.QRCode `json:"qr"`
}
