package remote

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is a failed remote call, carrying enough to decide whether a
// retry could help.
type APIError struct {
	StatusCode int
	Body       string
	Transient  bool
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote request failed: %v", e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("remote API returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("remote API returned %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func isTransientStatus(code int) bool {
	return code == 429 || code >= 500
}

// IsTransient reports whether retrying the failed call could succeed.
// Typed API errors carry the classification; anything else falls back
// to matching common network failure text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}

	errStr := strings.ToLower(err.Error())
	transientErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"no such host",
		"network unreachable",
		"broken pipe",
		"context deadline exceeded",
	}
	for _, t := range transientErrors {
		if strings.Contains(errStr, t) {
			return true
		}
	}
	return false
}
