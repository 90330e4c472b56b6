package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	corsMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}, ", ")

	// Tenant identifiers and idempotency keys must be sendable from browsers
	corsRequestHeaders = strings.Join([]string{
		"Origin", "Accept", "Content-Type", "Content-Length", "Authorization",
		"Idempotency-Key", "Tenant-Id", "Tenant-Slug", HeaderRequestID,
	}, ", ")

	corsExposedHeaders = strings.Join([]string{
		"Content-Length", "Content-Type", HeaderRequestID,
		"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
	}, ", ")
)

const corsMaxAge = 24 * 60 * 60

// CORS answers preflight requests before tenant resolution runs and decorates
// other responses for the allowed origins. An empty list or "*" allows any
// origin. A concrete origin is always echoed back so credentials work.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAny := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAny = true
		}
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && !allowAny {
			if _, ok := allowed[origin]; !ok {
				c.Next()
				return
			}
		}

		h := c.Writer.Header()
		if origin == "" {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Expose-Headers", corsExposedHeaders)

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}

		h.Set("Access-Control-Allow-Methods", corsMethods)
		h.Set("Access-Control-Allow-Headers", corsRequestHeaders)
		h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
		c.AbortWithStatus(http.StatusNoContent)
	}
}
