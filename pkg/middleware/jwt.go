package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/credential"
	"github.com/prohmpiriya/membership-gateway/pkg/tenant"
)

// TokenVerifier verifies access tokens
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, token string) (*credential.Claims, error)
}

// Authenticate requires a valid bearer access token. When a tenant has been
// resolved, the token's tenant claim must name that tenant.
func Authenticate(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			AbortWithError(c, apperror.New(apperror.CodeMissingToken, "Authorization header is required"))
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			AbortWithError(c, apperror.InvalidToken("invalid authorization header format"))
			return
		}

		claims, err := verifier.VerifyAccess(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if tc, ok := GetTenant(c); ok && !ClaimsMatchTenant(claims, tc) {
			AbortWithError(c, apperror.TenantMismatch())
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyTenantID, claims.TenantID)

		c.Next()
	}
}

// ClaimsMatchTenant reports whether the token may act in tc. Tokens without
// a tenant claim are not bound to any tenant.
func ClaimsMatchTenant(claims *credential.Claims, tc *tenant.Context) bool {
	switch {
	case claims.TenantID != "":
		return claims.TenantID == tc.ID
	case claims.TenantSlug != "":
		return strings.EqualFold(claims.TenantSlug, tc.Slug)
	default:
		return true
	}
}

// RequireRole creates a middleware that checks if user has required role
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetRole(c)
		if !ok {
			AbortWithError(c, apperror.New(apperror.CodeMissingToken, "User not authenticated"))
			return
		}

		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}

		AbortWithError(c, apperror.New(apperror.CodeForbidden, "Insufficient permissions"))
	}
}
