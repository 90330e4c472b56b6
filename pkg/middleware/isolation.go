package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/tenant"
)

// RequestScoper rewrites a request so it can only address one tenant's data
type RequestScoper interface {
	Apply(r *http.Request, tc *tenant.Context) error
}

// Isolation scopes the request's headers, query and body to the resolved tenant
func Isolation(scoper RequestScoper) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := GetTenant(c)
		if !ok {
			AbortWithError(c, apperror.TenantIdentifierMissing())
			return
		}

		if err := scoper.Apply(c.Request, tc); err != nil {
			AbortWithError(c, err)
			return
		}

		c.Next()
	}
}
