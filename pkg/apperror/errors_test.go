package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code     Code
		expected int
	}{
		{CodeTenantIdentifierMissing, http.StatusBadRequest},
		{CodeTenantNotFound, http.StatusNotFound},
		{CodeTenantInactive, http.StatusForbidden},
		{CodeFeatureNotLicensed, http.StatusForbidden},
		{CodeUsageLimitExceeded, http.StatusTooManyRequests},
		{CodeRateLimitExceeded, http.StatusTooManyRequests},
		{CodeTokenExpired, http.StatusUnauthorized},
		{CodeInvalidToken, http.StatusUnauthorized},
		{CodeInternalIsolationFailure, http.StatusInternalServerError},
		{CodeServiceUnavailable, http.StatusServiceUnavailable},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusFor(tt.code))
		})
	}
}

func TestErrorsIs_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("resolve: %w", TenantNotFound("acme"))

	assert.True(t, errors.Is(err, ErrTenantNotFound))
	assert.False(t, errors.Is(err, ErrTenantInactive))
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", UsageLimitExceeded(100, 100))

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeUsageLimitExceeded, appErr.Code)
	require.NotNil(t, appErr.Limit)
	require.NotNil(t, appErr.Current)
	assert.Equal(t, int64(100), *appErr.Limit)
	assert.Equal(t, int64(100), *appErr.Current)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func TestWrap_UnwrapsCause(t *testing.T) {
	err := ServiceUnavailable("tenant directory unavailable", context.DeadlineExceeded)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, errors.Is(err, ErrServiceUnavailable))
	assert.Contains(t, err.Error(), "SERVICE_UNAVAILABLE")
}

func TestConstructors(t *testing.T) {
	t.Run("feature names the feature", func(t *testing.T) {
		err := FeatureNotLicensed("biometric_auth")
		assert.Contains(t, err.Message, "biometric_auth")
		assert.Equal(t, "biometric_auth", err.Details["feature"])
		assert.Equal(t, http.StatusForbidden, err.HTTPStatus())
	})

	t.Run("inactive surfaces status", func(t *testing.T) {
		err := TenantInactive("suspended")
		assert.Equal(t, "suspended", err.Details["status"])
		assert.Contains(t, err.Message, "suspended")
	})

	t.Run("rate limit carries retry after", func(t *testing.T) {
		err := RateLimitExceeded(10, 42)
		require.NotNil(t, err.RetryAfter)
		assert.Equal(t, int64(42), *err.RetryAfter)
		assert.Equal(t, int64(10), *err.Limit)
	})

	t.Run("invalid token default reason", func(t *testing.T) {
		assert.Equal(t, "Invalid token", InvalidToken("").Message)
	})
	t.Run("upstream failure by cause", func(t *testing.T) {
		timeout := UpstreamFailure("members", true, context.DeadlineExceeded)
		assert.Equal(t, http.StatusGatewayTimeout, timeout.HTTPStatus())
		assert.Equal(t, "members", timeout.Details["service"])

		refused := UpstreamFailure("members", false, errors.New("connection refused"))
		assert.Equal(t, http.StatusBadGateway, refused.HTTPStatus())
	})
}
