// Shared error taxonomy for connector failures. Adapters normalize every
// backend/transport failure into one of these before the dispatcher sees it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthenticationFailed means the backend rejected our credential.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrInvalidRequest means the backend rejected the request payload.
	// Wrap with fmt.Errorf("%w: detail") to carry the backend message.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrServerError covers backend 5xx responses.
	ErrServerError = errors.New("backend server error")

	// ErrTimeout means the call did not settle within the configured deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled means the caller cancelled the in-flight request.
	ErrCancelled = errors.New("request cancelled")

	// ErrUnsupportedCapability means the model or backend cannot perform
	// the requested operation.
	ErrUnsupportedCapability = errors.New("unsupported capability")

	// ErrModelNotFound means the model is unknown or disabled for this connector.
	ErrModelNotFound = errors.New("model not found")

	// ErrRateLimited is the sentinel matched by errors.Is for *RateLimitError.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrStream covers mid-stream transport failures.
	ErrStream = errors.New("stream error")

	// ErrNotConfigured means the connector resolved no credential.
	ErrNotConfigured = errors.New("connector not configured")
)

// RateLimitError is a pre-flight rate limit rejection. RetryAfter is the
// number of whole seconds until the current 60s window rolls over.
type RateLimitError struct {
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// normalizeStatus maps a backend HTTP status to the shared taxonomy.
// The body excerpt is carried only for invalid-request errors, where the
// backend message is actionable for the caller.
func normalizeStatus(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthenticationFailed
	case status == http.StatusNotFound:
		return ErrModelNotFound
	case status == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: 60}
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: status %d: %s", ErrInvalidRequest, status, truncate(body, 200))
	case status >= 500:
		return ErrServerError
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}

// normalizeTransport maps a transport-level error, distinguishing caller
// cancellation and deadline expiry from plain connection failures.
func normalizeTransport(ctx context.Context, err error) error {
	switch {
	case ctx.Err() == context.Canceled:
		return ErrCancelled
	case ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return fmt.Errorf("%w: %v", ErrServerError, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
