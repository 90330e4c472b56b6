package middleware

import (
	"context"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prohmpiriya/membership-gateway/pkg/audit"
	"github.com/prohmpiriya/membership-gateway/pkg/httppath"
)

// Context keys for audit data
const (
	ContextKeyAuditResource = "audit_resource"
	ContextKeyAuditMetadata = "audit_metadata"
	ContextKeyAuditSkip     = "audit_skip"
)

// AuditRecorder appends audit records without blocking
type AuditRecorder interface {
	Record(ctx context.Context, action, resource string, info audit.RequestInfo) bool
}

// AuditRule marks requests matching Method and PathPrefix as a privileged
// Action. Method "*" matches any method.
type AuditRule struct {
	Method     string
	PathPrefix string
	Action     string
}

func (r AuditRule) matches(method, path string) bool {
	return (r.Method == "*" || r.Method == method) && httppath.HasPrefix(path, r.PathPrefix)
}

// Audit records requests matched by rules once the handler has run. Requests
// stopped earlier in the chain are not privileged actions and are not recorded.
func Audit(recorder AuditRecorder, rules []AuditRule) gin.HandlerFunc {
	rules = append([]AuditRule(nil), rules...)
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].PathPrefix) > len(rules[j].PathPrefix)
	})

	return func(c *gin.Context) {
		rule, ok := matchAuditRule(rules, c.Request.Method, c.Request.URL.Path)
		if !ok {
			c.Next()
			return
		}

		c.Next()

		if c.GetBool(ContextKeyAuditSkip) {
			return
		}

		metadata := map[string]interface{}{
			"status": c.Writer.Status(),
			"path":   c.Request.URL.Path,
		}
		if extra, exists := c.Get(ContextKeyAuditMetadata); exists {
			if m, ok := extra.(map[string]interface{}); ok {
				for k, v := range m {
					metadata[k] = v
				}
			}
		}

		resource := c.GetString(ContextKeyAuditResource)
		if resource == "" {
			resource = defaultResource(c.Request.URL.Path)
		}

		info := audit.RequestInfo{
			Method:    c.Request.Method,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
			RequestID: GetRequestID(c),
			Metadata:  metadata,
		}
		info.TenantID, _ = GetTenantID(c)
		info.UserID, _ = GetUserID(c)

		recorder.Record(c.Request.Context(), rule.Action, resource, info)
	}
}

func matchAuditRule(rules []AuditRule, method, path string) (AuditRule, bool) {
	for _, r := range rules {
		if r.matches(method, path) {
			return r, true
		}
	}
	return AuditRule{}, false
}

// defaultResource names the resource a path addresses
// Example: /api/v1/invitations/123 -> "invitation:123"
func defaultResource(path string) string {
	resourceType, resourceID := defaultResourceExtractor(path)
	if resourceID == "" {
		return resourceType
	}
	return resourceType + ":" + resourceID
}

// defaultResourceExtractor extracts resource type and ID from path
func defaultResourceExtractor(path string) (resourceType string, resourceID string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	// Skip api version prefix
	startIdx := len(parts)
	for i, part := range parts {
		if part == "api" || isVersion(part) {
			continue
		}
		startIdx = i
		break
	}

	if startIdx >= len(parts) || parts[startIdx] == "" {
		return "unknown", ""
	}

	// Get resource type (remove trailing 's' for plural)
	resourceType = strings.TrimSuffix(parts[startIdx], "s")

	if startIdx+1 < len(parts) && isValidID(parts[startIdx+1]) {
		resourceID = parts[startIdx+1]
	}

	return resourceType, resourceID
}

func isVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// isValidID checks if a string looks like a valid ID
func isValidID(s string) bool {
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Helper functions for handlers to set audit context

// SetAuditResource overrides the audited resource name
func SetAuditResource(c *gin.Context, resource string) {
	c.Set(ContextKeyAuditResource, resource)
}

// SetAuditMetadata adds metadata to the audit record. Sensitive keys are
// masked by the recorder.
func SetAuditMetadata(c *gin.Context, metadata map[string]interface{}) {
	c.Set(ContextKeyAuditMetadata, metadata)
}

// SkipAudit marks the current request to skip audit logging
func SkipAudit(c *gin.Context) {
	c.Set(ContextKeyAuditSkip, true)
}
