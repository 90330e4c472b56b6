package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/logger"
	"github.com/prohmpiriya/membership-gateway/pkg/middleware"
	"github.com/prohmpiriya/membership-gateway/pkg/response"
)

// Headers describing the authenticated caller to downstream services.
// Inbound values are always discarded.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"
)

const contextKeyRoute = "proxy_route"

// ServiceConfig names a downstream service
type ServiceConfig struct {
	Name    string
	BaseURL string
}

// RouteConfig maps a path prefix to a downstream service
type RouteConfig struct {
	PathPrefix string
	// StripPrefix is removed from the path before forwarding
	StripPrefix string
	RequireAuth bool
	// AllowedMethods empty means every method
	AllowedMethods []string
	Service        ServiceConfig
}

func (r *RouteConfig) allows(method string) bool {
	if len(r.AllowedMethods) == 0 {
		return true
	}
	for _, m := range r.AllowedMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// ProxyConfig holds the routing table
type ProxyConfig struct {
	Routes         []RouteConfig
	DefaultTimeout time.Duration
}

// ReverseProxy forwards gateway requests to downstream services
type ReverseProxy struct {
	config  ProxyConfig
	proxies map[string]*httputil.ReverseProxy
	log     *logger.Logger
}

// NewReverseProxy builds one forwarding proxy per downstream service
func NewReverseProxy(config ProxyConfig, log *logger.Logger) (*ReverseProxy, error) {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}

	routes := append([]RouteConfig(nil), config.Routes...)
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].PathPrefix) > len(routes[j].PathPrefix)
	})
	config.Routes = routes

	rp := &ReverseProxy{
		config:  config,
		proxies: make(map[string]*httputil.ReverseProxy),
		log:     log,
	}

	for _, route := range routes {
		if _, ok := rp.proxies[route.Service.Name]; ok {
			continue
		}
		target, err := url.Parse(route.Service.BaseURL)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid base url for service %s: %q", route.Service.Name, route.Service.BaseURL)
		}
		rp.proxies[route.Service.Name] = rp.newServiceProxy(route.Service.Name, target)
	}

	return rp, nil
}

func (rp *ReverseProxy) newServiceProxy(service string, target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			otel.GetTextMapPropagator().Inject(pr.Out.Context(), propagation.HeaderCarrier(pr.Out.Header))
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			timedOut := isTimeoutError(err)
			rp.log.WarnContext(r.Context(), "Upstream request failed",
				zap.String("service", service),
				zap.String("path", r.URL.Path),
				zap.Bool("timeout", timedOut),
				zap.Bool("connection", isConnectionError(err)),
				zap.Error(err),
			)

			status, body := response.FromError(apperror.UpstreamFailure(service, timedOut, err))
			writeJSON(w, status, body)
		},
	}
}

// findRoute returns the longest-prefix route allowing method
func (rp *ReverseProxy) findRoute(path, method string) *RouteConfig {
	for i := range rp.config.Routes {
		route := &rp.config.Routes[i]
		if !matchesPrefix(path, route.PathPrefix) {
			continue
		}
		if route.allows(method) {
			return route
		}
	}
	return nil
}

// matchesPrefix matches whole path segments, so /api/v1/members does not
// capture /api/v1/membership-keys.
func matchesPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

// Handler forwards the request to the route's service. Caller identity set
// by the authentication middleware is passed on in X-User-* headers.
func (rp *ReverseProxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		route, ok := routeFrom(c)
		if !ok {
			route = rp.findRoute(c.Request.URL.Path, c.Request.Method)
		}
		if route == nil {
			middleware.AbortWithError(c, apperror.RouteNotFound())
			return
		}

		proxy, ok := rp.proxies[route.Service.Name]
		if !ok {
			middleware.AbortWithError(c, apperror.UpstreamFailure(route.Service.Name, false, errors.New("no proxy configured")))
			return
		}

		req := c.Request
		req.Header.Del(HeaderUserID)
		req.Header.Del(HeaderUserEmail)
		req.Header.Del(HeaderUserRole)
		if userID, ok := middleware.GetUserID(c); ok && userID != "" {
			req.Header.Set(HeaderUserID, userID)
		}
		if email, ok := middleware.GetEmail(c); ok && email != "" {
			req.Header.Set(HeaderUserEmail, email)
		}
		if role, ok := middleware.GetRole(c); ok && role != "" {
			req.Header.Set(HeaderUserRole, role)
		}

		if route.StripPrefix != "" {
			req.URL.Path = strings.TrimPrefix(req.URL.Path, route.StripPrefix)
			if req.URL.RawPath != "" {
				req.URL.RawPath = strings.TrimPrefix(req.URL.RawPath, route.StripPrefix)
			}
			if !strings.HasPrefix(req.URL.Path, "/") {
				req.URL.Path = "/" + req.URL.Path
			}
		}

		ctx, cancel := context.WithTimeout(req.Context(), rp.config.DefaultTimeout)
		defer cancel()

		proxy.ServeHTTP(c.Writer, req.WithContext(ctx))
	}
}

// Routes returns the routing table, longest prefix first
func (rp *ReverseProxy) Routes() []RouteConfig {
	return append([]RouteConfig(nil), rp.config.Routes...)
}

func routeFrom(c *gin.Context) (*RouteConfig, bool) {
	v, exists := c.Get(contextKeyRoute)
	if !exists {
		return nil, false
	}
	route, ok := v.(*RouteConfig)
	return route, ok && route != nil
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
