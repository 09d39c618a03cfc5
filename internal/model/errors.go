package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateKey is returned by stores when a unique key already exists.
var ErrDuplicateKey = errors.New("duplicate key")

// HTTPError wraps an HTTP status code so retry logic can inspect it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// TransientFetchError is a network or page-load failure. It voids the
// current run of a source only.
type TransientFetchError struct {
	Source string
	Err    error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s: transient fetch error: %v", e.Source, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// StructuralChangeError means the remote markup or schema no longer has
// what the adapter expects.
type StructuralChangeError struct {
	Source string
	Detail string
}

func (e *StructuralChangeError) Error() string {
	return fmt.Sprintf("%s: structure changed: %s", e.Source, e.Detail)
}

// DeliveryError is a failed send of one notification.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ConfigurationError is a missing external dependency. It is never retried.
type ConfigurationError struct {
	Component string
	Detail    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: configuration: %s", e.Component, e.Detail)
}

// IsTransient reports whether err is worth another attempt. Deadline errors
// from per-page timeouts count as transient; callers check their own context
// before retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var structural *StructuralChangeError
	var cfgErr *ConfigurationError
	if errors.As(err, &structural) || errors.As(err, &cfgErr) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	return true
}
