package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/membership-gateway/pkg/logger"
	"github.com/prohmpiriya/membership-gateway/pkg/tenant"
)

// TenantResolver resolves the active tenant a request belongs to
type TenantResolver interface {
	Resolve(r *http.Request) (*tenant.Context, error)
}

// Tenant resolves the request's tenant and attaches it to both the gin
// context and the request context. Resolution failures end the request.
func Tenant(resolver TenantResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, err := resolver.Resolve(c.Request)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := logger.ContextWithTenantID(c.Request.Context(), tc.ID)
		c.Request = c.Request.WithContext(tenant.NewContext(ctx, tc))
		c.Set(ContextKeyTenant, tc)

		c.Next()
	}
}
