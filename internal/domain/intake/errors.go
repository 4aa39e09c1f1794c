package intake

import (
	"fmt"
	"net/http"

	"github.com/labflow/intake/internal/platform/metrics"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindMalformedPayload Kind = "malformed_payload"
	KindUnauthorized     Kind = "unauthorized"
	KindSchemaInvalid    Kind = "schema_invalid"
	KindPayloadTooLarge  Kind = "payload_too_large"
	KindUnhandledFailure Kind = "unhandled_failure"
)

// HTTPStatus maps the kind to the status code returned to the sender.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindMalformedPayload, KindSchemaInvalid:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) outcome() string {
	switch k {
	case KindMalformedPayload:
		return metrics.OutcomeMalformed
	case KindUnauthorized:
		return metrics.OutcomeUnauthorized
	case KindSchemaInvalid:
		return metrics.OutcomeSchemaInvalid
	case KindPayloadTooLarge:
		return metrics.OutcomeTooLarge
	default:
		return metrics.OutcomeFailed
	}
}

// Error is returned by Service.Process for every rejected submission.
// Message is safe to show to the sender; Err carries the cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
