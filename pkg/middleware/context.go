package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/membership-gateway/pkg/credential"
	"github.com/prohmpiriya/membership-gateway/pkg/tenant"
)

// Keys under which the pipeline stores request state on the gin context
const (
	ContextKeyRequestID = "request_id"
	ContextKeyTenant    = "tenant"
	ContextKeyClaims    = "claims"
	ContextKeyUserID    = "user_id"
	ContextKeyEmail     = "email"
	ContextKeyRole      = "role"
	ContextKeyTenantID  = "tenant_id"
)

func lookup[T any](c *gin.Context, key string) (T, bool) {
	var zero T
	v, exists := c.Get(key)
	if !exists {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// GetTenant returns the resolved tenant. It is shared with the rest of the
// chain and must be treated as read-only.
func GetTenant(c *gin.Context) (*tenant.Context, bool) {
	tc, ok := lookup[*tenant.Context](c, ContextKeyTenant)
	return tc, ok && tc != nil
}

// GetClaims returns the verified credential claims
func GetClaims(c *gin.Context) (*credential.Claims, bool) {
	claims, ok := lookup[*credential.Claims](c, ContextKeyClaims)
	return claims, ok && claims != nil
}

func GetUserID(c *gin.Context) (string, bool) { return lookup[string](c, ContextKeyUserID) }

func GetEmail(c *gin.Context) (string, bool) { return lookup[string](c, ContextKeyEmail) }

func GetRole(c *gin.Context) (string, bool) { return lookup[string](c, ContextKeyRole) }

// GetTenantID prefers the resolved tenant and falls back to the token claim
func GetTenantID(c *gin.Context) (string, bool) {
	if tc, ok := GetTenant(c); ok {
		return tc.ID, true
	}
	id, ok := lookup[string](c, ContextKeyTenantID)
	return id, ok && id != ""
}

func strconvI64(n int64) string {
	return strconv.FormatInt(n, 10)
}
