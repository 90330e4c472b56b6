package tenant

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/prohmpiriya/membership-gateway/pkg/credential"
)

// Strategy extracts a candidate identifier from a request. Strategies are
// pure: they never perform directory lookups.
type Strategy func(r *http.Request) (Identifier, bool)

const (
	HeaderTenantID   = "tenant-id"
	HeaderTenantSlug = "tenant-slug"
)

// HeaderStrategy reads the tenant-id header, then tenant-slug
func HeaderStrategy() Strategy {
	return func(r *http.Request) (Identifier, bool) {
		if v := strings.TrimSpace(r.Header.Get(HeaderTenantID)); v != "" {
			return Identifier{Kind: KindID, Value: v, Source: "header"}, true
		}
		if v := strings.TrimSpace(r.Header.Get(HeaderTenantSlug)); v != "" {
			return Identifier{Kind: KindSlug, Value: strings.ToLower(v), Source: "header"}, true
		}
		return Identifier{}, false
	}
}

// HostStrategy derives the tenant from the request host. A single label in
// front of baseDomain is a subdomain candidate unless reserved; a host outside
// baseDomain is treated as a custom domain.
func HostStrategy(baseDomain string, reserved []string) Strategy {
	baseDomain = strings.ToLower(strings.Trim(baseDomain, "."))
	skip := make(map[string]struct{}, len(reserved))
	for _, label := range reserved {
		skip[strings.ToLower(label)] = struct{}{}
	}

	return func(r *http.Request) (Identifier, bool) {
		host := hostname(r.Host)
		if host == "" || net.ParseIP(host) != nil || !strings.Contains(host, ".") {
			return Identifier{}, false
		}

		if baseDomain == "" {
			return Identifier{Kind: KindDomain, Value: host, Source: "host"}, true
		}
		if host == baseDomain {
			return Identifier{}, false
		}

		label, ok := strings.CutSuffix(host, "."+baseDomain)
		if !ok {
			return Identifier{Kind: KindDomain, Value: host, Source: "host"}, true
		}
		if label == "" || strings.Contains(label, ".") {
			return Identifier{}, false
		}
		if _, reserved := skip[label]; reserved {
			return Identifier{}, false
		}
		return Identifier{Kind: KindSubdomain, Value: label, Source: "host"}, true
	}
}

// QueryStrategy reads an id-or-slug reference from the named query parameter
func QueryStrategy(param string) Strategy {
	return func(r *http.Request) (Identifier, bool) {
		if v := strings.TrimSpace(r.URL.Query().Get(param)); v != "" {
			return Identifier{Kind: KindRef, Value: v, Source: "query"}, true
		}
		return Identifier{}, false
	}
}

// Verifier verifies an access token
type Verifier interface {
	VerifyAccess(ctx context.Context, token string) (*credential.Claims, error)
}

// TokenClaimStrategy reads tenant_id, then tenant_slug, from a verified bearer
// token. Tokens that fail verification yield no candidate.
func TokenClaimStrategy(verifier Verifier) Strategy {
	return func(r *http.Request) (Identifier, bool) {
		token, ok := BearerToken(r)
		if !ok {
			return Identifier{}, false
		}
		claims, err := verifier.VerifyAccess(r.Context(), token)
		if err != nil {
			return Identifier{}, false
		}
		if claims.TenantID != "" {
			return Identifier{Kind: KindID, Value: claims.TenantID, Source: "token"}, true
		}
		if claims.TenantSlug != "" {
			return Identifier{Kind: KindSlug, Value: strings.ToLower(claims.TenantSlug), Source: "token"}, true
		}
		return Identifier{}, false
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func hostname(hostport string) string {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
