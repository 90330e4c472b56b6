// Package audit keeps an append-only trail of privileged actions. Recording
// never blocks the request: records are buffered and written to sinks by a
// background worker.
package audit

import (
	"strings"
	"time"
)

// Record is a single audit entry
type Record struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id"`
	UserID    string                 `json:"user_id,omitempty"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Method    string                 `json:"method"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	RequestID string                 `json:"request_id"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// RequestInfo describes the request that performed an action
type RequestInfo struct {
	TenantID  string
	UserID    string
	Method    string
	IPAddress string
	UserAgent string
	RequestID string
	Metadata  map[string]interface{}
}

// DefaultSensitiveFields are metadata keys masked before recording
var DefaultSensitiveFields = []string{"password", "token", "secret", "api_key", "credit_card"}

const redacted = "[REDACTED]"

// MaskSensitive returns a copy of data with sensitive keys redacted, recursing
// into nested maps. A key is sensitive when it contains any of fields.
func MaskSensitive(data map[string]interface{}, fields []string) map[string]interface{} {
	if data == nil {
		return nil
	}

	result := make(map[string]interface{}, len(data))
	for k, v := range data {
		if isSensitive(k, fields) {
			result[k] = redacted
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			result[k] = MaskSensitive(nested, fields)
		} else {
			result[k] = v
		}
	}
	return result
}

func isSensitive(key string, fields []string) bool {
	lower := strings.ToLower(key)
	for _, f := range fields {
		if strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}
