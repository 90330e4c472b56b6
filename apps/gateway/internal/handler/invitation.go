package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/membership-gateway/apps/gateway/internal/dto"
	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/invitation"
	"github.com/prohmpiriya/membership-gateway/pkg/middleware"
	"github.com/prohmpiriya/membership-gateway/pkg/response"
)

// HeaderIdempotencyKey scopes an invitation redemption for safe retries
const HeaderIdempotencyKey = "Idempotency-Key"

// InvitationService issues and redeems invitations
type InvitationService interface {
	Issue(ctx context.Context, req invitation.IssueRequest) (*invitation.Invitation, error)
	Redeem(ctx context.Context, tenantID, code, email, redemptionKey string) (*invitation.Redemption, error)
}

// InvitationHandler handles tenant invitations
type InvitationHandler struct {
	invitations InvitationService
}

// NewInvitationHandler creates a new InvitationHandler
func NewInvitationHandler(invitations InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

// Create issues an invitation into the resolved tenant
// POST /api/v1/invitations
func (h *InvitationHandler) Create(c *gin.Context) {
	tc, ok := middleware.GetTenant(c)
	if !ok {
		middleware.AbortWithError(c, apperror.TenantIdentifierMissing())
		return
	}

	var req dto.CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	userID, _ := middleware.GetUserID(c)
	inv, err := h.invitations.Issue(c.Request.Context(), invitation.IssueRequest{
		TenantID:  tc.ID,
		Email:     req.Email,
		Role:      req.Role,
		TTL:       req.TTL(),
		MaxUses:   req.MaxUses,
		CreatedBy: userID,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	middleware.SetAuditResource(c, "invitation")
	middleware.SetAuditMetadata(c, map[string]interface{}{
		"role":          inv.Role,
		"max_uses":      inv.MaxUses,
		"email_bound":   inv.Email != "",
		"expires_at":    inv.ExpiresAt,
		"invitation_by": userID,
	})
	c.JSON(http.StatusCreated, response.Success(dto.NewInvitationResponse(inv)))
}

// Redeem consumes one use of an invitation. Retrying with the same
// Idempotency-Key returns the original result.
// POST /api/v1/invitations/redeem
func (h *InvitationHandler) Redeem(c *gin.Context) {
	tc, ok := middleware.GetTenant(c)
	if !ok {
		middleware.AbortWithError(c, apperror.TenantIdentifierMissing())
		return
	}

	var req dto.RedeemInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	red, err := h.invitations.Redeem(c.Request.Context(), tc.ID, req.Code, req.Email, c.GetHeader(HeaderIdempotencyKey))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	middleware.SetAuditResource(c, "invitation")
	middleware.SetAuditMetadata(c, map[string]interface{}{
		"role":     red.Role,
		"uses":     red.Uses,
		"replayed": red.Replayed,
	})
	c.JSON(http.StatusOK, response.Success(red))
}
