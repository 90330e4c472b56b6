package router

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/membership-gateway/apps/gateway/internal/di"
	"github.com/prohmpiriya/membership-gateway/pkg/middleware"
)

// Setup builds the gateway engine. Every tenant-scoped route runs the same
// pipeline: tenant, authentication when required, access, isolation, rate
// limit, audit, then the handler or the downstream proxy.
func Setup(c *di.Container) *gin.Engine {
	engine := gin.New()
	// Validated with the config, so an error here means no proxy is trusted
	if err := engine.SetTrustedProxies(c.Config.Server.TrustedProxies); err != nil {
		_ = engine.SetTrustedProxies(nil)
	}

	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Tracing(),
		middleware.AccessLog(c.Log, "/health", "/ready"),
		middleware.CanonicalPath(),
		middleware.CORS(c.Config.CORS.AllowedOrigins),
	)

	engine.GET("/health", c.HealthHandler.Health)
	engine.GET("/ready", c.HealthHandler.Ready)

	stages := pipeline(c)
	authenticate := middleware.Authenticate(c.Codec)
	public := func(h ...gin.HandlerFunc) []gin.HandlerFunc {
		return chain(stages, h...)
	}
	private := func(h gin.HandlerFunc, guards ...gin.HandlerFunc) []gin.HandlerFunc {
		pre := chain([]gin.HandlerFunc{authenticate}, guards...)
		return chain(chain(pre, stages...), h)
	}

	v1 := engine.Group("/api/v1", middleware.Tenant(c.Resolver))
	{
		auth := v1.Group("/auth")
		auth.POST("/refresh", public(c.AuthHandler.Refresh)...)
		if c.Codec.RevocationEnabled() {
			auth.POST("/revoke", private(c.AuthHandler.Revoke)...)
		}

		invitations := v1.Group("/invitations")
		invitations.POST("", private(c.InvitationHandler.Create, middleware.RequireRole("admin", "owner"))...)
		invitations.POST("/redeem", public(c.InvitationHandler.Redeem)...)

		keys := v1.Group("/membership-keys")
		keys.POST("", private(c.MembershipKeyHandler.Issue)...)
		keys.GET("/:key", public(c.MembershipKeyHandler.Validate)...)
	}

	c.Router.Mount(engine, middleware.Tenant(c.Resolver), stages...)

	return engine
}

// pipeline returns the stages that follow tenant resolution and authentication
func pipeline(c *di.Container) []gin.HandlerFunc {
	stages := []gin.HandlerFunc{
		middleware.Access(c.Validator),
		middleware.Isolation(c.Enforcer),
	}
	if c.Limiter != nil {
		stages = append(stages, middleware.RateLimit(c.Limiter))
	}
	if c.Recorder != nil {
		stages = append(stages, middleware.Audit(c.Recorder, c.AuditRules))
	}
	return stages
}

func chain(stages []gin.HandlerFunc, handlers ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(stages)+len(handlers))
	out = append(out, stages...)
	return append(out, handlers...)
}
