package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/membership-gateway/apps/gateway/internal/dto"
	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/credential"
	"github.com/prohmpiriya/membership-gateway/pkg/logger"
	"github.com/prohmpiriya/membership-gateway/pkg/middleware"
	"github.com/prohmpiriya/membership-gateway/pkg/response"
)

// TokenService issues, verifies and revokes session credentials
type TokenService interface {
	VerifyRefresh(ctx context.Context, token string) (*credential.Claims, error)
	IssuePair(claims credential.Claims) (*credential.TokenPair, error)
	ClaimRefresh(ctx context.Context, claims *credential.Claims) error
	Revoke(ctx context.Context, claims *credential.Claims) error
	RevocationEnabled() bool
}

// AuthHandler handles token refresh and revocation
type AuthHandler struct {
	tokens TokenService
	log    *logger.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(tokens TokenService, log *logger.Logger) *AuthHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &AuthHandler{tokens: tokens, log: log}
}

// Refresh exchanges a refresh token for a new pair. With revocation enabled
// the presented refresh token is spent before the pair is issued, so
// concurrent exchanges of one token yield at most one pair.
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req dto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	claims, err := h.tokens.VerifyRefresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	if tc, ok := middleware.GetTenant(c); ok && !middleware.ClaimsMatchTenant(claims, tc) {
		middleware.AbortWithError(c, apperror.TenantMismatch())
		return
	}

	if err := h.tokens.ClaimRefresh(c.Request.Context(), claims); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	pair, err := h.tokens.IssuePair(credential.Claims{
		UserID:      claims.UserID,
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		TenantID:    claims.TenantID,
		TenantSlug:  claims.TenantSlug,
	})
	if err != nil {
		h.log.ErrorContext(c.Request.Context(), "Refresh token spent but no pair issued",
			zap.String("token_id", claims.TokenID),
			zap.Error(err),
		)
		middleware.AbortWithError(c, apperror.Wrap(apperror.CodeInternal, "Failed to issue tokens", err))
		return
	}

	c.Set(middleware.ContextKeyUserID, claims.UserID)
	c.JSON(http.StatusOK, response.Success(pair))
}

// Revoke denylists the access token used for this request
// POST /api/v1/auth/revoke
func (h *AuthHandler) Revoke(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		middleware.AbortWithError(c, apperror.New(apperror.CodeMissingToken, "User not authenticated"))
		return
	}

	if err := h.tokens.Revoke(c.Request.Context(), claims); err != nil {
		middleware.AbortWithError(c, apperror.ServiceUnavailable("Credential revocation unavailable", err))
		return
	}

	middleware.SetAuditResource(c, "token:"+claims.TokenID)
	c.JSON(http.StatusOK, response.Success(dto.RevokeResponse{TokenID: claims.TokenID, Revoked: true}))
}
