package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/membership-gateway/apps/gateway/internal/dto"
	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/membershipkey"
	"github.com/prohmpiriya/membership-gateway/pkg/middleware"
	"github.com/prohmpiriya/membership-gateway/pkg/response"
)

// MembershipKeyHandler issues and validates tiered membership keys
type MembershipKeyHandler struct {
	baseURL string
	now     func() time.Time
}

// NewMembershipKeyHandler creates a new MembershipKeyHandler. baseURL is
// where QR codes send members to validate a key.
func NewMembershipKeyHandler(baseURL string) *MembershipKeyHandler {
	return &MembershipKeyHandler{baseURL: baseURL, now: time.Now}
}

// Issue generates a key for the authenticated user
// POST /api/v1/membership-keys
func (h *MembershipKeyHandler) Issue(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok || userID == "" {
		middleware.AbortWithError(c, apperror.New(apperror.CodeMissingToken, "User not authenticated"))
		return
	}

	var req dto.IssueMembershipKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	tier, err := membershipkey.TierByName(req.Tier)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest("Unknown membership tier"))
		return
	}

	registeredAt := h.now()
	if req.RegisteredAt != nil {
		registeredAt = *req.RegisteredAt
	}

	key, err := membershipkey.Generate(userID, tier, registeredAt, req.Name)
	if err != nil {
		middleware.AbortWithError(c, apperror.Wrap(apperror.CodeInternal, "Failed to generate membership key", err))
		return
	}

	resp, err := h.describe(key)
	if err != nil {
		middleware.AbortWithError(c, apperror.Wrap(apperror.CodeInternal, "Generated membership key failed validation", err))
		return
	}

	middleware.SetAuditResource(c, "membership_key")
	middleware.SetAuditMetadata(c, map[string]interface{}{"tier": tier.Name})
	c.JSON(http.StatusCreated, response.Success(resp))
}

// Validate decodes a key and returns its QR payload
// GET /api/v1/membership-keys/:key
func (h *MembershipKeyHandler) Validate(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, response.BadRequest("Membership key is required"))
		return
	}

	resp, err := h.describe(key)
	if err != nil {
		middleware.AbortWithError(c, apperror.InvalidMembershipKey(reason(err)))
		return
	}

	c.JSON(http.StatusOK, response.Success(resp))
}

func (h *MembershipKeyHandler) describe(key string) (*dto.MembershipKeyResponse, error) {
	info, err := membershipkey.Validate(key)
	if err != nil {
		return nil, err
	}
	qr, err := membershipkey.QRPayload(key, h.baseURL)
	if err != nil {
		return nil, err
	}
	return &dto.MembershipKeyResponse{Key: key, Info: info, QR: qr}, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, membershipkey.ErrUnknownFormat):
		return "unknown_format"
	case errors.Is(err, membershipkey.ErrInvalidStructure):
		return "invalid_structure"
	case errors.Is(err, membershipkey.ErrInvalidChecksum):
		return "invalid_checksum"
	case errors.Is(err, membershipkey.ErrTierMismatch):
		return "tier_mismatch"
	default:
		return "invalid"
	}
}
