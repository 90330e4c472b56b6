package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/tenant"
)

// AccessChecker decides whether a tenant may use a method and path
type AccessChecker interface {
	Check(ctx context.Context, tc *tenant.Context, method, path string) error
}

// Access applies feature and usage gating for the resolved tenant
func Access(checker AccessChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := GetTenant(c)
		if !ok {
			AbortWithError(c, apperror.TenantIdentifierMissing())
			return
		}

		if err := checker.Check(c.Request.Context(), tc, c.Request.Method, c.Request.URL.Path); err != nil {
			AbortWithError(c, err)
			return
		}

		c.Next()
	}
}
