package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/membership-gateway/pkg/ratelimit"
)

// RateLimiter admits or rejects a request for a tenant and route
type RateLimiter interface {
	Allow(ctx context.Context, tenantID, route string) (ratelimit.Decision, error)
}

// RateLimit applies the tenant's per-route limits and reports the window in
// X-RateLimit-* headers. Requests without a resolved tenant pass through.
func RateLimit(limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := GetTenant(c)
		if !ok {
			c.Next()
			return
		}

		decision, err := limiter.Allow(c.Request.Context(), tc.ID, c.Request.URL.Path)
		if decision.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconvI64(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconvI64(decision.Remaining()))
			c.Header("X-RateLimit-Reset", strconvI64(ratelimit.RetryAfter(decision.ResetIn)))
		}
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Next()
	}
}
