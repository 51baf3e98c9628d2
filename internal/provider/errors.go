package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorCategory classifies a fetch failure.
type ErrorCategory string

const (
	// ErrNotFound: the character is unknown to the provider, usually a
	// rename, transfer or deletion. Expected, never retried, excluded
	// from alert thresholds.
	ErrNotFound ErrorCategory = "not-found"
	// ErrRateLimited: the provider throttled us.
	ErrRateLimited ErrorCategory = "rate-limited"
	// ErrTimeout: the request exceeded its deadline.
	ErrTimeout ErrorCategory = "timeout"
	// ErrParse: the provider answered with an unexpected shape.
	ErrParse ErrorCategory = "parse-error"
	// ErrAuth: credential or token failure; triggers a single token
	// refresh-and-retry rather than per-member retries.
	ErrAuth ErrorCategory = "auth-failure"
	// ErrUnknown: anything else.
	ErrUnknown ErrorCategory = "unknown"
)

// FetchError is a classified provider failure.
type FetchError struct {
	Category ErrorCategory
	Source   string
	URL      string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Source, e.Category, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Source, e.Category, e.URL)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError builds a classified failure for a provider call.
func NewFetchError(category ErrorCategory, source, url string, err error) *FetchError {
	return &FetchError{Category: category, Source: source, URL: url, Err: err}
}

// CategoryOf extracts the category from an error chain, defaulting to
// ErrUnknown for unclassified errors.
func CategoryOf(err error) ErrorCategory {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ErrUnknown
}

// IsNotFound reports whether the error is a not-found fetch failure.
func IsNotFound(err error) bool {
	return CategoryOf(err) == ErrNotFound
}

// ClassifyStatus maps an HTTP status code to an error category.
func ClassifyStatus(status int) ErrorCategory {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	default:
		return ErrUnknown
	}
}

// ClassifyTransport maps a transport-level error to a category. Deadline
// expiry and net timeouts become ErrTimeout so a hung provider call is
// retryable on the next cycle for that member alone.
func ClassifyTransport(err error) ErrorCategory {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrUnknown
}
