package isolation

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
	"github.com/prohmpiriya/membership-gateway/pkg/tenant"
)

func realTenant() *tenant.Context {
	return &tenant.Context{
		ID:     "real-tenant",
		Slug:   "real",
		Plan:   tenant.PlanEnterprise,
		Status: tenant.StatusActive,
	}
}

func newJSONRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func readBody(t *testing.T, req *http.Request) []byte {
	t.Helper()
	data, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	return data
}

func assertCode(t *testing.T, err error, code apperror.Code) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok, "expected *apperror.Error, got %T", err)
	assert.Equal(t, code, appErr.Code)
}

func TestApply_StripsAndSetsTenantHeaders(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/members", nil)
	req.Header.Set("X-Tenant-Id", "attacker-tenant")
	req.Header.Set("x-tenant-role", "owner")
	req.Header.Set("X-Request-Id", "req-1")

	require.NoError(t, e.Apply(req, realTenant()))

	assert.Equal(t, "real-tenant", req.Header.Get("X-Tenant-Id"))
	assert.Equal(t, "real", req.Header.Get("X-Tenant-Slug"))
	assert.Equal(t, "enterprise", req.Header.Get("X-Tenant-Plan"))
	assert.Empty(t, req.Header.Get("X-Tenant-Role"))
	assert.Equal(t, []string{"real-tenant"}, req.Header.Values("X-Tenant-Id"))
	assert.Equal(t, "req-1", req.Header.Get("X-Request-Id"))
}

func TestApply_OverwritesQueryOnEveryMethod(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	for _, method := range []string{http.MethodGet, http.MethodDelete, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/api/v1/members?tenantId=attacker-tenant&tenantId=x&page=2", nil)
			require.NoError(t, e.Apply(req, realTenant()))

			q := req.URL.Query()
			assert.Equal(t, []string{"real-tenant"}, q["tenantId"])
			assert.Equal(t, "2", q.Get("page"))
		})
	}
}

func TestApply_RewritesJSONObject(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	req := newJSONRequest(http.MethodPost, "/api/v1/members", `{"tenantId":"attacker-tenant","name":"Ann","age":42,"score":1.50}`)
	require.NoError(t, e.Apply(req, realTenant()))

	body := readBody(t, req)
	assert.JSONEq(t, `{"tenantId":"real-tenant","name":"Ann","age":42,"score":1.50}`, string(body))
	assert.Equal(t, int64(len(body)), req.ContentLength)
	assert.Equal(t, strconv.Itoa(len(body)), req.Header.Get("Content-Length"))
}

func TestApply_AddsMissingJSONField(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	req := newJSONRequest(http.MethodPatch, "/api/v1/members/1", `{"name":"<Ann>"}`)
	require.NoError(t, e.Apply(req, realTenant()))

	body := readBody(t, req)
	assert.JSONEq(t, `{"tenantId":"real-tenant","name":"<Ann>"}`, string(body))
	assert.Contains(t, string(body), "<Ann>", "html must not be escaped")
}

func TestApply_RewritesJSONArray(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	req := newJSONRequest(http.MethodPut, "/api/v1/members", `[{"name":"a"},{"name":"b","tenantId":"attacker-tenant"}]`)
	require.NoError(t, e.Apply(req, realTenant()))

	var items []map[string]interface{}
	require.NoError(t, json.Unmarshal(readBody(t, req), &items))
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "real-tenant", item["tenantId"])
	}
}

func TestApply_VendorJSONContentType(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/members", strings.NewReader(`{"tenantId":"attacker-tenant"}`))
	req.Header.Set("Content-Type", "application/merge-patch+json; charset=utf-8")
	require.NoError(t, e.Apply(req, realTenant()))

	assert.JSONEq(t, `{"tenantId":"real-tenant"}`, string(readBody(t, req)))
}

func TestApply_RewritesForm(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/members", strings.NewReader("tenantId=attacker-tenant&name=Ann"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	require.NoError(t, e.Apply(req, realTenant()))

	values, err := url.ParseQuery(string(readBody(t, req)))
	require.NoError(t, err)
	assert.Equal(t, []string{"real-tenant"}, values["tenantId"])
	assert.Equal(t, "Ann", values.Get("name"))
}

func TestApply_LeavesMultipartBody(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("tenantId", "attacker-tenant"))
	require.NoError(t, mw.Close())
	original := buf.String()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", strings.NewReader(original))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, e.Apply(req, realTenant()))

	assert.Equal(t, original, string(readBody(t, req)))
	assert.Equal(t, "real-tenant", req.Header.Get("X-Tenant-Id"))
	assert.Equal(t, "real-tenant", req.URL.Query().Get("tenantId"))
}

func TestApply_ReadRequestBodyUntouched(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	req := newJSONRequest(http.MethodDelete, "/api/v1/members/1", `{"tenantId":"attacker-tenant"}`)
	require.NoError(t, e.Apply(req, realTenant()))
	assert.Equal(t, `{"tenantId":"attacker-tenant"}`, string(readBody(t, req)))
}

func TestApply_EmptyJSONBody(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	req := newJSONRequest(http.MethodPost, "/api/v1/members/1/activate", "")
	require.NoError(t, e.Apply(req, realTenant()))
}

func TestApply_NonObjectJSONFails(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	for _, body := range []string{`"just a string"`, `42`, `[1,2]`, `{"a":`, `{} {}`} {
		t.Run(body, func(t *testing.T) {
			req := newJSONRequest(http.MethodPost, "/api/v1/members", body)
			err := e.Apply(req, realTenant())
			assertCode(t, err, apperror.CodeInternalIsolationFailure)
			appErr, _ := apperror.As(err)
			assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus())
		})
	}
}

func TestApply_OversizedBody(t *testing.T) {
	e := NewEnforcer(Config{MaxBodySize: 16})

	t.Run("declared length", func(t *testing.T) {
		req := newJSONRequest(http.MethodPost, "/api/v1/members", `{"name":"a very long name indeed"}`)
		err := e.Apply(req, realTenant())
		assertCode(t, err, apperror.CodePayloadTooLarge)
		appErr, _ := apperror.As(err)
		assert.Equal(t, http.StatusRequestEntityTooLarge, appErr.HTTPStatus())
	})

	t.Run("chunked", func(t *testing.T) {
		req := newJSONRequest(http.MethodPost, "/api/v1/members", `{"name":"a very long name indeed"}`)
		req.ContentLength = -1
		err := e.Apply(req, realTenant())
		assertCode(t, err, apperror.CodePayloadTooLarge)
	})
}

func TestApply_CustomFieldNames(t *testing.T) {
	e := NewEnforcer(Config{Field: "organization_id", QueryParam: "org"})

	req := newJSONRequest(http.MethodPost, "/api/v1/members?org=evil", `{"organization_id":"evil"}`)
	require.NoError(t, e.Apply(req, realTenant()))

	assert.Equal(t, "real-tenant", req.URL.Query().Get("org"))
	assert.JSONEq(t, `{"organization_id":"real-tenant"}`, string(readBody(t, req)))
}

func TestApply_DropsCaseVariantsOfTenantField(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	var scoped struct {
		TenantID string `json:"tenantId"`
	}

	t.Run("object", func(t *testing.T) {
		req := newJSONRequest(http.MethodPost, "/api/v1/members",
			`{"tenantiD":"attacker-tenant","TENANTID":"attacker-tenant","name":"x"}`)
		require.NoError(t, e.Apply(req, realTenant()))

		body := readBody(t, req)
		assert.JSONEq(t, `{"tenantId":"real-tenant","name":"x"}`, string(body))
		require.NoError(t, json.Unmarshal(body, &scoped))
		assert.Equal(t, "real-tenant", scoped.TenantID)
	})

	t.Run("array", func(t *testing.T) {
		req := newJSONRequest(http.MethodPost, "/api/v1/members/bulk",
			`[{"tenantiD":"attacker-tenant"},{"Tenantid":"attacker-tenant","tenantId":"x"}]`)
		require.NoError(t, e.Apply(req, realTenant()))

		assert.JSONEq(t, `[{"tenantId":"real-tenant"},{"tenantId":"real-tenant"}]`, string(readBody(t, req)))
	})
}

func TestApply_UndeclaredJSONBodyIsScoped(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	for _, contentType := range []string{"", "text/plain", "application/octet-stream", "not a media type;;"} {
		t.Run("content-type="+contentType, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/members",
				strings.NewReader(`{"tenantId":"attacker-tenant","name":"x"}`))
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}
			require.NoError(t, e.Apply(req, realTenant()))

			assert.JSONEq(t, `{"tenantId":"real-tenant","name":"x"}`, string(readBody(t, req)))
		})
	}
}

func TestApply_UndeclaredNonJSONBodyRejected(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	for _, contentType := range []string{"", "text/plain", "application/octet-stream"} {
		t.Run("content-type="+contentType, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/members/1",
				strings.NewReader("tenantId=attacker-tenant"))
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}
			err := e.Apply(req, realTenant())
			assertCode(t, err, apperror.CodeUnsupportedMediaType)
			appErr, _ := apperror.As(err)
			assert.Equal(t, http.StatusUnsupportedMediaType, appErr.HTTPStatus())
		})
	}
}

func TestApply_UndeclaredEmptyBodyPasses(t *testing.T) {
	e := NewEnforcer(DefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/members/1/activate", strings.NewReader("  "))
	require.NoError(t, e.Apply(req, realTenant()))
	assert.Equal(t, "  ", string(readBody(t, req)))
}
