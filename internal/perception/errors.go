package perception

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a provider failure. The names match the error class
// names the batch scheduler scans task logs for.
type ErrorKind string

const (
	KindConnection   ErrorKind = "APIConnectionError"
	KindTimeout      ErrorKind = "APITimeoutError"
	KindRateLimit    ErrorKind = "RateLimitError"
	KindUnavailable  ErrorKind = "ServiceUnavailableError"
	KindServer       ErrorKind = "InternalServerError"
	KindBadRequest   ErrorKind = "BadRequestError"
	KindAuthenticate ErrorKind = "AuthenticationError"

	// KindMalformedField is a 400 rejecting a blank or empty field. Gateways
	// return it intermittently for payloads they accept on a resend.
	KindMalformedField ErrorKind = "MalformedFieldBadRequestError"
)

// malformedFieldHints mark a 400 body as a blank-field rejection.
var malformedFieldHints = []string{
	"must be non-empty",
	"must not be empty",
	"cannot be empty",
	"empty content",
	"blank",
}

// APIError is a classified provider failure.
type APIError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindBadRequest, KindAuthenticate:
		return false
	}
	return true
}

func newStatusError(status int, body string) *APIError {
	body = strings.TrimSpace(body)
	if len(body) > 500 {
		body = body[:500]
	}
	err := fmt.Errorf("API request failed: %s", body)
	switch {
	case status == http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimit, Status: status, Err: err}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &APIError{Kind: KindAuthenticate, Status: status, Err: err}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &APIError{Kind: KindTimeout, Status: status, Err: err}
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return &APIError{Kind: KindUnavailable, Status: status, Err: err}
	case status >= 500:
		return &APIError{Kind: KindServer, Status: status, Err: err}
	case status == http.StatusBadRequest && isMalformedField(body):
		return &APIError{Kind: KindMalformedField, Status: status, Err: err}
	default:
		return &APIError{Kind: KindBadRequest, Status: status, Err: err}
	}
}

func isMalformedField(body string) bool {
	body = strings.ToLower(body)
	for _, h := range malformedFieldHints {
		if strings.Contains(body, h) {
			return true
		}
	}
	return false
}

// cleanBlank replaces blank message text with a single space. Strict
// OpenAI-compatible gateways reject empty content fields with a 400.
func cleanBlank(s string) string {
	if strings.TrimSpace(s) == "" {
		return " "
	}
	return s
}

// IsRetryable reports whether err is worth retrying. Unclassified errors are
// treated as transient unless the caller's context is done.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// errNoAPIKey is returned before any request when no key is configured.
var errNoAPIKey = &APIError{Kind: KindAuthenticate, Err: errors.New("API key not configured")}
