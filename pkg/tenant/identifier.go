package tenant

import "fmt"

// Kind says which directory attribute an identifier refers to
type Kind string

const (
	KindID        Kind = "id"
	KindSlug      Kind = "slug"
	KindSubdomain Kind = "subdomain" // matches a custom subdomain or the slug
	KindDomain    Kind = "domain"
	KindRef       Kind = "ref" // matches the id or the slug
)

// Identifier is a candidate tenant reference extracted from a request
type Identifier struct {
	Kind  Kind
	Value string
	// Source names the strategy that produced the identifier
	Source string
}

// CacheKey is the tenant cache key for this identifier
func (id Identifier) CacheKey() string {
	return cacheKey(id.Kind, id.Value)
}

func (id Identifier) String() string {
	return fmt.Sprintf("%s:%s", id.Kind, id.Value)
}

func cacheKey(kind Kind, value string) string {
	return "tenant:" + string(kind) + ":" + value
}

// cacheKeys lists every key under which tc may be cached
func cacheKeys(tc *Context) []string {
	keys := []string{
		cacheKey(KindID, tc.ID),
		cacheKey(KindRef, tc.ID),
	}
	if tc.Slug != "" {
		keys = append(keys,
			cacheKey(KindSlug, tc.Slug),
			cacheKey(KindRef, tc.Slug),
			cacheKey(KindSubdomain, tc.Slug),
		)
	}
	if tc.Subdomain != "" {
		keys = append(keys, cacheKey(KindSubdomain, tc.Subdomain))
	}
	if tc.Domain != "" {
		keys = append(keys, cacheKey(KindDomain, tc.Domain))
	}
	return keys
}
