package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/prohmpiriya/membership-gateway/pkg/telemetry"
)

// Tracing opens a server span per request, continuing any inbound trace
// context. Tenant and user attributes are added once later stages resolve them.
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		// Proxied requests have no gin route; naming them by raw path
		// would explode span cardinality.
		name := c.Request.Method
		if route := c.FullPath(); route != "" {
			name = fmt.Sprintf("%s %s", c.Request.Method, route)
		}
		ctx, span := telemetry.StartSpan(ctx, name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				telemetry.MethodAttr(c.Request.Method),
				attribute.String("url.path", c.Request.URL.Path),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if tenantID, ok := GetTenantID(c); ok {
			span.SetAttributes(telemetry.TenantIDAttr(tenantID))
		}
		if userID, ok := GetUserID(c); ok {
			span.SetAttributes(telemetry.UserIDAttr(userID))
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
