package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/httppath"
)

// CanonicalPath rejects requests whose path has empty, "." or ".." segments.
// Access, rate limit and audit rules match on the raw path, so they only
// hold when the downstream service resolves the same path the rules saw.
func CanonicalPath() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !httppath.Canonical(c.Request.URL.Path) {
			AbortWithError(c, apperror.New(apperror.CodeBadRequest, "Request path is not canonical"))
			return
		}
		c.Next()
	}
}
