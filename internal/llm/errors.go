package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrBackend is the uniform failure surface for completion backend calls.
// Every error returned by a Client wraps it; the more specific sentinels
// below exist for diagnostics and remain checkable with errors.Is.
var (
	ErrBackend      = errors.New("completion backend failure")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrTimeout      = errors.New("timeout")
)

// classifyStatus maps an HTTP status to a diagnostic sentinel, or nil for
// statuses with no special classification.
func classifyStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	default:
		return nil
	}
}

// statusError builds the backend failure for an HTTP error status.
func statusError(status int, message string) error {
	if s := classifyStatus(status); s != nil {
		return fmt.Errorf("%w: %w: %s", ErrBackend, s, message)
	}
	return fmt.Errorf("%w: status %d: %s", ErrBackend, status, message)
}

// classifyErrorType maps an OpenAI error type string to a diagnostic
// sentinel, or nil for types with no special classification.
func classifyErrorType(errType string) error {
	switch {
	case strings.Contains(errType, "rate_limit"):
		return ErrRateLimited
	case strings.Contains(errType, "authentication"), strings.Contains(errType, "permission"),
		strings.Contains(errType, "invalid_api_key"):
		return ErrUnauthorized
	case strings.Contains(errType, "timeout"):
		return ErrTimeout
	default:
		return nil
	}
}

// transportError builds the backend failure for a failed round trip.
func transportError(err error) error {
	var uerr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &uerr) && uerr.Timeout()) {
		return fmt.Errorf("%w: %w: %v", ErrBackend, ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrBackend, err)
}
