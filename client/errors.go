package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoRefreshToken is returned by RefreshAuth when no refresh token is held. No
// request is made.
var ErrNoRefreshToken = errors.New("no refresh token available")

// APIError is returned for every response with status 400 or above.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	// Message is the server's "error" or "message" field, if any.
	Message string
	Body    []byte
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	e := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Body:       body,
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"error", "message"} {
			if msg, ok := payload[key].(string); ok && strings.TrimSpace(msg) != "" {
				e.Message = msg
				break
			}
		}
	}
	return e
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not an APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	return StatusCode(err) == status
}

// IsConflict reports a 409, which register uses for an existing account.
func IsConflict(err error) bool {
	return IsStatus(err, http.StatusConflict)
}

// IsUnauthorized reports a 401.
func IsUnauthorized(err error) bool {
	return IsStatus(err, http.StatusUnauthorized)
}

// FieldError reports a success response that lacks a required field.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("response missing field %q", e.Field)
}
