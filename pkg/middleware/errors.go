package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/membership-gateway/pkg/response"
)

// AbortWithError stops the chain and answers with the uniform error body for
// err. Rate limit and usage errors also set Retry-After when they carry one.
func AbortWithError(c *gin.Context, err error) {
	status, body := response.FromError(err)
	if body.RetryAfter != nil {
		c.Header("Retry-After", strconvI64(*body.RetryAfter))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
