package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ValidationError indicates malformed or missing input. Never retried,
// surfaced to HTTP callers as 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// NotFoundError indicates the upstream has no matching record. Never retried.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string {
	return e.Msg
}

// CredentialError indicates the upstream rejected the refresh token. Fatal to
// the in-flight call, never retried.
type CredentialError struct {
	Msg string
	Err error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// UnsupportedEntityTypeError indicates a call statistic references a CRM
// entity kind the relay does not handle.
type UnsupportedEntityTypeError struct {
	EntityType string
}

func (e *UnsupportedEntityTypeError) Error() string {
	return fmt.Sprintf("unsupported CRM entity type: %q", e.EntityType)
}

// UpstreamError indicates a non-2xx response from a vendor call other than an
// authorization failure. Not retried.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream call %s failed with status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// TimeoutError indicates an outbound call exceeded its request timeout.
type TimeoutError struct {
	Endpoint string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream call %s timed out: %v", e.Endpoint, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps an error to the status code returned to the original
// webhook caller. Structural validation failures are the caller's fault;
// everything else is a processing failure.
func HTTPStatus(err error) int {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}
