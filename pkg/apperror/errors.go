// Package apperror defines the error taxonomy shared by every stage of the
// gateway pipeline. Each error carries a stable machine-readable code so client
// SDKs can branch on it, plus the HTTP status the gateway answers with.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code
type Code string

// Trust-boundary error codes
const (
	CodeTenantIdentifierMissing  Code = "TENANT_IDENTIFIER_MISSING"
	CodeTenantNotFound           Code = "TENANT_NOT_FOUND"
	CodeTenantInactive           Code = "TENANT_INACTIVE"
	CodeTenantMismatch           Code = "TENANT_MISMATCH"
	CodeFeatureNotLicensed       Code = "FEATURE_NOT_LICENSED"
	CodeUsageLimitExceeded       Code = "USAGE_LIMIT_EXCEEDED"
	CodeRateLimitExceeded        Code = "RATE_LIMIT_EXCEEDED"
	CodeTokenExpired             Code = "TOKEN_EXPIRED"
	CodeInvalidToken             Code = "INVALID_TOKEN"
	CodeMissingToken             Code = "MISSING_TOKEN"
	CodeForbidden                Code = "FORBIDDEN"
	CodeInternalIsolationFailure Code = "INTERNAL_ISOLATION_FAILURE"
	CodePayloadTooLarge          Code = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMediaType     Code = "UNSUPPORTED_MEDIA_TYPE"
	CodeServiceUnavailable       Code = "SERVICE_UNAVAILABLE"
	CodeBadRequest               Code = "BAD_REQUEST"
	CodeInternal                 Code = "INTERNAL_ERROR"
)

// Invitation and membership key codes
const (
	CodeInvitationNotFound      Code = "INVITATION_NOT_FOUND"
	CodeInvitationExpired       Code = "INVITATION_EXPIRED"
	CodeInvitationExhausted     Code = "INVITATION_EXHAUSTED"
	CodeInvitationEmailMismatch Code = "INVITATION_EMAIL_MISMATCH"
	CodeInvalidMembershipKey    Code = "INVALID_MEMBERSHIP_KEY"
)

// Routing codes
const (
	CodeRouteNotFound  Code = "NOT_FOUND"
	CodeBadGateway     Code = "BAD_GATEWAY"
	CodeGatewayTimeout Code = "GATEWAY_TIMEOUT"
)

// CodeToHTTPStatus maps error codes to HTTP status codes
var CodeToHTTPStatus = map[Code]int{
	CodeTenantIdentifierMissing:  http.StatusBadRequest,
	CodeTenantNotFound:           http.StatusNotFound,
	CodeTenantInactive:           http.StatusForbidden,
	CodeTenantMismatch:           http.StatusForbidden,
	CodeFeatureNotLicensed:       http.StatusForbidden,
	CodeUsageLimitExceeded:       http.StatusTooManyRequests,
	CodeRateLimitExceeded:        http.StatusTooManyRequests,
	CodeTokenExpired:             http.StatusUnauthorized,
	CodeInvalidToken:             http.StatusUnauthorized,
	CodeMissingToken:             http.StatusUnauthorized,
	CodeForbidden:                http.StatusForbidden,
	CodeInternalIsolationFailure: http.StatusInternalServerError,
	CodePayloadTooLarge:          http.StatusRequestEntityTooLarge,
	CodeUnsupportedMediaType:     http.StatusUnsupportedMediaType,
	CodeServiceUnavailable:       http.StatusServiceUnavailable,
	CodeBadRequest:               http.StatusBadRequest,
	CodeInternal:                 http.StatusInternalServerError,
	CodeInvitationNotFound:       http.StatusNotFound,
	CodeInvitationExpired:        http.StatusGone,
	CodeInvitationExhausted:      http.StatusGone,
	CodeInvitationEmailMismatch:  http.StatusForbidden,
	CodeInvalidMembershipKey:     http.StatusBadRequest,
	CodeRouteNotFound:            http.StatusNotFound,
	CodeBadGateway:               http.StatusBadGateway,
	CodeGatewayTimeout:           http.StatusGatewayTimeout,
}

// StatusFor returns the HTTP status for a code, 500 for unknown codes
func StatusFor(code Code) int {
	if status, ok := CodeToHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is a classified gateway failure
type Error struct {
	Code    Code
	Message string
	// Limit, Current and RetryAfter are set for quota and rate-limit failures
	Limit      *int64
	Current    *int64
	RetryAfter *int64
	Details    map[string]string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so the exported
// sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus returns the HTTP status for this error
func (e *Error) HTTPStatus() int {
	return StatusFor(e.Code)
}

// Sentinels for errors.Is matching
var (
	ErrTenantIdentifierMissing  = &Error{Code: CodeTenantIdentifierMissing}
	ErrTenantNotFound           = &Error{Code: CodeTenantNotFound}
	ErrTenantInactive           = &Error{Code: CodeTenantInactive}
	ErrTenantMismatch           = &Error{Code: CodeTenantMismatch}
	ErrFeatureNotLicensed       = &Error{Code: CodeFeatureNotLicensed}
	ErrUsageLimitExceeded       = &Error{Code: CodeUsageLimitExceeded}
	ErrRateLimitExceeded        = &Error{Code: CodeRateLimitExceeded}
	ErrTokenExpired             = &Error{Code: CodeTokenExpired}
	ErrInvalidToken             = &Error{Code: CodeInvalidToken}
	ErrInternalIsolationFailure = &Error{Code: CodeInternalIsolationFailure}
	ErrServiceUnavailable       = &Error{Code: CodeServiceUnavailable}
	ErrInvitationNotFound       = &Error{Code: CodeInvitationNotFound}
	ErrInvitationExpired        = &Error{Code: CodeInvitationExpired}
	ErrInvitationExhausted      = &Error{Code: CodeInvitationExhausted}
	ErrInvitationEmailMismatch  = &Error{Code: CodeInvitationEmailMismatch}
	ErrInvalidMembershipKey     = &Error{Code: CodeInvalidMembershipKey}
)

// New creates an error with the given code and message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error with the given code and message wrapping cause
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// As extracts an *Error from err
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// --- Constructors ---

func TenantIdentifierMissing() *Error {
	return New(CodeTenantIdentifierMissing, "No tenant identifier found in header, host, query or credential")
}

func TenantNotFound(identifier string) *Error {
	return &Error{
		Code:    CodeTenantNotFound,
		Message: fmt.Sprintf("Tenant %q not found", identifier),
		Details: map[string]string{"tenant": identifier},
	}
}

// TenantInactive surfaces the specific non-active status
func TenantInactive(status string) *Error {
	return &Error{
		Code:    CodeTenantInactive,
		Message: fmt.Sprintf("Tenant is %s", status),
		Details: map[string]string{"status": status},
	}
}

func TenantMismatch() *Error {
	return New(CodeTenantMismatch, "Credential does not belong to the resolved tenant")
}

func FeatureNotLicensed(feature string) *Error {
	return &Error{
		Code:    CodeFeatureNotLicensed,
		Message: fmt.Sprintf("Feature %s is not available on the current plan", feature),
		Details: map[string]string{"feature": feature},
	}
}

func UsageLimitExceeded(limit, current int64) *Error {
	return &Error{
		Code:    CodeUsageLimitExceeded,
		Message: fmt.Sprintf("Usage limit reached (%d/%d)", current, limit),
		Limit:   &limit,
		Current: &current,
	}
}

func RateLimitExceeded(limit, retryAfter int64) *Error {
	return &Error{
		Code:       CodeRateLimitExceeded,
		Message:    fmt.Sprintf("Rate limit exceeded. Please retry after %d second(s).", retryAfter),
		Limit:      &limit,
		RetryAfter: &retryAfter,
	}
}

func TokenExpired() *Error {
	return New(CodeTokenExpired, "Token has expired")
}

func InvalidToken(reason string) *Error {
	if reason == "" {
		reason = "Invalid token"
	}
	return New(CodeInvalidToken, reason)
}

func InternalIsolationFailure(cause error) *Error {
	return Wrap(CodeInternalIsolationFailure, "Request could not be scoped to the tenant", cause)
}

func ServiceUnavailable(message string, cause error) *Error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return Wrap(CodeServiceUnavailable, message, cause)
}

func PayloadTooLarge(maxBytes int64) *Error {
	limit := maxBytes
	return &Error{
		Code:    CodePayloadTooLarge,
		Message: fmt.Sprintf("Request body exceeds %d bytes", maxBytes),
		Limit:   &limit,
	}
}

// UnsupportedMediaType rejects a write body the gateway cannot scope to a tenant
func UnsupportedMediaType(contentType string) *Error {
	if contentType == "" {
		contentType = "none"
	}
	return New(CodeUnsupportedMediaType,
		fmt.Sprintf("Request body with content type %q cannot be scoped to the tenant", contentType))
}

func InvitationNotFound() *Error {
	return New(CodeInvitationNotFound, "Invitation not found")
}

func InvitationExpired() *Error {
	return New(CodeInvitationExpired, "Invitation has expired")
}

func InvitationExhausted() *Error {
	return New(CodeInvitationExhausted, "Invitation has no remaining uses")
}

func InvitationEmailMismatch() *Error {
	return New(CodeInvitationEmailMismatch, "Invitation was issued to a different email")
}

func InvalidMembershipKey(reason string) *Error {
	return &Error{
		Code:    CodeInvalidMembershipKey,
		Message: "Invalid membership key",
		Details: map[string]string{"reason": reason},
	}
}

func RouteNotFound() *Error {
	return New(CodeRouteNotFound, "Route not found")
}

// UpstreamFailure reports a downstream service that could not answer
func UpstreamFailure(service string, timedOut bool, cause error) *Error {
	if timedOut {
		return &Error{
			Code:    CodeGatewayTimeout,
			Message: "Upstream service timed out",
			Details: map[string]string{"service": service},
			Err:     cause,
		}
	}
	return &Error{
		Code:    CodeBadGateway,
		Message: "Upstream service unavailable",
		Details: map[string]string{"service": service},
		Err:     cause,
	}
}
