package response

import (
	"errors"
	"net/http"

	"github.com/prohmpiriya/membership-gateway/pkg/apperror"
)

// Response represents the standard success response structure
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta represents metadata for paginated responses
type Meta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// ErrorBody is the uniform error body every gateway stage answers with.
// Limit, Current and RetryAfter are omitted unless the failure carries them.
type ErrorBody struct {
	Error      string            `json:"error"`
	Message    string            `json:"message"`
	Limit      *int64            `json:"limit,omitempty"`
	Current    *int64            `json:"current,omitempty"`
	RetryAfter *int64            `json:"retryAfter,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// --- Response Builders ---

// Success creates a success response with data
func Success(data interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// SuccessWithMeta creates a success response with data and metadata
func SuccessWithMeta(data interface{}, meta *Meta) *Response {
	return &Response{
		Success: true,
		Data:    data,
		Meta:    meta,
	}
}

// Error creates an error body
func Error(code apperror.Code, message string) *ErrorBody {
	return &ErrorBody{
		Error:   string(code),
		Message: message,
	}
}

// ErrorWithDetails creates an error body with additional details
func ErrorWithDetails(code apperror.Code, message string, details map[string]string) *ErrorBody {
	return &ErrorBody{
		Error:   string(code),
		Message: message,
		Details: details,
	}
}

// FromError converts any error into a status and body. Unclassified errors
// become INTERNAL_ERROR without leaking their text.
func FromError(err error) (int, *ErrorBody) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, InternalError("")
	}

	return appErr.HTTPStatus(), &ErrorBody{
		Error:      string(appErr.Code),
		Message:    appErr.Message,
		Limit:      appErr.Limit,
		Current:    appErr.Current,
		RetryAfter: appErr.RetryAfter,
		Details:    appErr.Details,
	}
}

// --- Common Error Responses ---

// BadRequest creates a bad request error body
func BadRequest(message string) *ErrorBody {
	return Error(apperror.CodeBadRequest, message)
}

// MissingToken creates an unauthorized error body for absent credentials
func MissingToken(message string) *ErrorBody {
	if message == "" {
		message = "Authorization header is required"
	}
	return Error(apperror.CodeMissingToken, message)
}

// Forbidden creates a forbidden error body
func Forbidden(message string) *ErrorBody {
	if message == "" {
		message = "Access denied"
	}
	return Error(apperror.CodeForbidden, message)
}

// InternalError creates an internal server error body
func InternalError(message string) *ErrorBody {
	if message == "" {
		message = "An internal error occurred"
	}
	return Error(apperror.CodeInternal, message)
}

// ServiceUnavailable creates a service unavailable error body
func ServiceUnavailable(message string) *ErrorBody {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return Error(apperror.CodeServiceUnavailable, message)
}
