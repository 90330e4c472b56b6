// Package isolation scopes an inbound request to its resolved tenant before
// it reaches a handler or downstream service. Caller-supplied tenant
// attributes in headers, query and body are overwritten, never trusted.
package isolation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/tenant"
)

const (
	HeaderTenantID   = "X-Tenant-Id"
	HeaderTenantSlug = "X-Tenant-Slug"
	HeaderTenantPlan = "X-Tenant-Plan"

	headerTenantPrefix = "X-Tenant-"
)

// Config configures an Enforcer
type Config struct {
	// Field is the body field carrying the tenant id
	Field string
	// QueryParam is the query parameter carrying the tenant id
	QueryParam string
	// MaxBodySize bounds the bodies the enforcer will buffer and rewrite
	MaxBodySize int64
}

// DefaultConfig returns the default enforcer configuration
func DefaultConfig() Config {
	return Config{
		Field:       "tenantId",
		QueryParam:  "tenantId",
		MaxBodySize: 1 << 20,
	}
}

// Enforcer rewrites requests so that every tenant reference names the
// resolved tenant
type Enforcer struct {
	cfg Config
}

// NewEnforcer creates a new Enforcer
func NewEnforcer(cfg Config) *Enforcer {
	def := DefaultConfig()
	if cfg.Field == "" {
		cfg.Field = def.Field
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = def.QueryParam
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	return &Enforcer{cfg: cfg}
}

// Apply scopes r to tc in place
func (e *Enforcer) Apply(r *http.Request, tc *tenant.Context) error {
	e.scopeHeaders(r.Header, tc)
	e.scopeQuery(r.URL, tc)

	if !isWrite(r.Method) {
		return nil
	}
	return e.scopeBody(r, tc)
}

func (e *Enforcer) scopeHeaders(h http.Header, tc *tenant.Context) {
	for name := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), headerTenantPrefix) {
			delete(h, name)
		}
	}
	h.Set(HeaderTenantID, tc.ID)
	h.Set(HeaderTenantSlug, tc.Slug)
	h.Set(HeaderTenantPlan, string(tc.Plan))
}

func (e *Enforcer) scopeQuery(u *url.URL, tc *tenant.Context) {
	q := u.Query()
	q.Set(e.cfg.QueryParam, tc.ID)
	u.RawQuery = q.Encode()
}

func (e *Enforcer) scopeBody(r *http.Request, tc *tenant.Context) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	contentType := r.Header.Get("Content-Type")
	kind := bodyKind(contentType)
	if kind == kindMultipart {
		return nil
	}
	if r.ContentLength > e.cfg.MaxBodySize {
		return apperror.PayloadTooLarge(e.cfg.MaxBodySize)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, e.cfg.MaxBodySize+1))
	r.Body.Close()
	if err != nil {
		return apperror.InternalIsolationFailure(fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > e.cfg.MaxBodySize {
		return apperror.PayloadTooLarge(e.cfg.MaxBodySize)
	}

	var rewritten []byte
	switch kind {
	case kindJSON:
		rewritten, err = e.rewriteJSON(body, tc.ID)
	case kindForm:
		rewritten, err = e.rewriteForm(body, tc.ID)
	default:
		// Downstream binders decode JSON whatever the declared type says, so
		// an undeclared body is scoped as JSON or refused.
		if len(bytes.TrimSpace(body)) == 0 {
			setBody(r, body)
			return nil
		}
		if !json.Valid(body) {
			return apperror.UnsupportedMediaType(contentType)
		}
		rewritten, err = e.rewriteJSON(body, tc.ID)
	}
	if err != nil {
		return apperror.InternalIsolationFailure(err)
	}

	setBody(r, rewritten)
	return nil
}

// rewriteJSON overwrites the tenant field of an object, or of every element
// of an array of objects. Empty bodies pass through untouched.
func (e *Enforcer) rewriteJSON(body []byte, tenantID string) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return body, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var payload interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode json body: %w", err)
	}
	if dec.More() {
		return nil, errors.New("trailing data after json body")
	}

	switch v := payload.(type) {
	case map[string]interface{}:
		e.setField(v, tenantID)
	case []interface{}:
		for i, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("json array element %d is not an object", i)
			}
			e.setField(obj, tenantID)
		}
	default:
		return nil, fmt.Errorf("json body is %T, not an object", payload)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode json body: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// setField drops every case variant of the tenant field before setting it.
// encoding/json matches keys case-insensitively and the last one wins, so a
// leftover "tenantID" would override the rewritten value downstream.
func (e *Enforcer) setField(obj map[string]interface{}, tenantID string) {
	for k := range obj {
		if strings.EqualFold(k, e.cfg.Field) {
			delete(obj, k)
		}
	}
	obj[e.cfg.Field] = tenantID
}

func (e *Enforcer) rewriteForm(body []byte, tenantID string) ([]byte, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode form body: %w", err)
	}
	values.Set(e.cfg.Field, tenantID)
	return []byte(values.Encode()), nil
}

func setBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	r.ContentLength = int64(len(body))
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
}

type contentKind int

const (
	kindUnknown contentKind = iota
	kindJSON
	kindForm
	kindMultipart
)

func bodyKind(contentType string) contentKind {
	if contentType == "" {
		return kindUnknown
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return kindUnknown
	}
	switch {
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return kindJSON
	case mediaType == "application/x-www-form-urlencoded":
		return kindForm
	case strings.HasPrefix(mediaType, "multipart/"):
		return kindMultipart
	}
	return kindUnknown
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
