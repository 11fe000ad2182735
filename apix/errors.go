package apix

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrAlreadySent marks a send/import that has already completed for
	// this (backend, document) pair. Callers should treat it as an
	// idempotent success, not a failure.
	ErrAlreadySent = errors.New("document already sent to APIX")

	// ErrNotConfirmed is returned when a signed call is attempted before
	// the backend has been authenticated.
	ErrNotConfirmed = errors.New("backend authentication is not confirmed")

	// ErrNoPrimaryDocument is returned when a downloaded archive contains
	// no invoice document entry.
	ErrNoPrimaryDocument = errors.New("no invoice document in downloaded archive")
)

// ConfigError reports a missing or invalid backend configuration field.
// It is fatal: the caller must fix the configuration, retrying won't help.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("apix backend configuration: missing %s", e.Field)
}

// GatewayError is a Status=ERR response from the gateway. It is a business
// error (bad credentials, rejected payload) and is never retried.
type GatewayError struct {
	StatusCode string
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("API Error (%s): %s", e.StatusCode, e.Message)
}

// RequestError is a transport-level failure: HTTP error status, timeout or
// an unparseable response body. Transient, eligible for retry.
type RequestError struct {
	StatusCode int
	Err        error
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("status: %d err: %v message: %s", e.StatusCode, e.Err, e.Body)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Retryable reports whether err is worth retrying at the task-queue layer.
// Only transport failures qualify; gateway and validation errors are
// deterministic and would fail the same way again.
func Retryable(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr)
}
