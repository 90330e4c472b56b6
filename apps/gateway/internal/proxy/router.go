package proxy

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/middleware"
)

// Router places downstream routes behind the gateway pipeline
type Router struct {
	proxy        *ReverseProxy
	authenticate gin.HandlerFunc
}

// NewRouter creates a router. authenticate runs only for routes that
// require authentication.
func NewRouter(proxy *ReverseProxy, authenticate gin.HandlerFunc) *Router {
	return &Router{proxy: proxy, authenticate: authenticate}
}

// Match resolves the downstream route and ends unknown paths with 404
// before any tenant work is done.
func (r *Router) Match() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := r.proxy.findRoute(c.Request.URL.Path, c.Request.Method)
		if route == nil {
			middleware.AbortWithError(c, apperror.RouteNotFound())
			return
		}
		c.Set(contextKeyRoute, route)
		c.Next()
	}
}

// Authenticate applies the authentication middleware to auth-required routes
func (r *Router) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		route, ok := routeFrom(c)
		if !ok || !route.RequireAuth {
			c.Next()
			return
		}
		r.authenticate(c)
	}
}

// Mount serves every downstream route as the engine's fallback. stages run
// between authentication and forwarding, in order.
func (r *Router) Mount(engine *gin.Engine, tenant gin.HandlerFunc, stages ...gin.HandlerFunc) {
	handlers := []gin.HandlerFunc{r.Match(), tenant, r.Authenticate()}
	handlers = append(handlers, stages...)
	handlers = append(handlers, r.proxy.Handler())
	engine.NoRoute(handlers...)
}
