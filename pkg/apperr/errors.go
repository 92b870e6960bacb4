package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
)

// Kind classifies an error for the HTTP boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindValidation
	KindInsufficientCredits
	KindUnhandledEvent
	KindUpstreamUnavailable
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation_failed"
	case KindInsufficientCredits:
		return "insufficient_credits"
	case KindUnhandledEvent:
		return "unhandled_event"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindConflict:
		return "persistence_conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Reserved error codes returned to clients.
const (
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeForbidden           = "FORBIDDEN"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeNoCredits           = "NO_CREDITS"
	CodeUnhandledEvent      = "UNHANDLED_EVENT"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeConflict            = "PERSISTENCE_CONFLICT"
	CodeNotFound            = "NOT_FOUND"
	CodeInternal            = "INTERNAL"
)

// Error is an application error carrying a kind, a stable code and a
// client-safe message. Err holds the underlying cause, which is logged but
// never written to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Status overrides the default HTTP status for Kind when non-zero.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and code so sentinels compare with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// HTTPStatus returns the HTTP status code for the error.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	case KindUnhandledEvent:
		return http.StatusUnprocessableEntity
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindConflict:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrUnauthenticated     = &Error{Kind: KindUnauthenticated, Code: CodeUnauthenticated, Message: "unauthenticated"}
	ErrForbidden           = &Error{Kind: KindForbidden, Code: CodeForbidden, Message: "forbidden"}
	ErrInsufficientCredits = &Error{Kind: KindInsufficientCredits, Code: CodeNoCredits, Message: "User has not enough credits."}
	ErrNotFound            = &Error{Kind: KindNotFound, Code: CodeNotFound, Message: "not found"}
)

// Unauthenticated returns an Unauthenticated error with a custom message.
func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Code: CodeUnauthenticated, Message: message}
}

// Forbidden returns a Forbidden error with a custom message.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: message}
}

// Validation returns a ValidationFailed error (400).
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidationFailed, Message: fmt.Sprintf(format, args...)}
}

// Unprocessable returns a ValidationFailed error surfaced as 422.
func Unprocessable(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeValidationFailed,
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusUnprocessableEntity,
	}
}

// UnhandledEvent reports a webhook event type that has no reconciliation rule.
func UnhandledEvent(eventType string) *Error {
	return &Error{
		Kind:    KindUnhandledEvent,
		Code:    CodeUnhandledEvent,
		Message: fmt.Sprintf("Unhandled event type: %s", eventType),
	}
}

// Upstream wraps a transport failure talking to an external collaborator.
func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Code: CodeUpstreamUnavailable, Message: message, Err: err}
}

// Internal wraps an unexpected failure behind a generic client message.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal server error", Err: err}
}

// KindOf returns the Kind of err, or KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PostgreSQL SQLSTATE codes classified as persistence conflicts.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqUndefinedTable      = "42P01"
)

// FromDB classifies a database error. Constraint violations become
// PersistenceConflict (422), a missing relation becomes PersistenceConflict
// (500) and anything else is returned unchanged.
func FromDB(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case pqUniqueViolation, pqForeignKeyViolation:
		return &Error{
			Kind:    KindConflict,
			Code:    CodeConflict,
			Message: "Save failed: a record with this identity already exists or a referenced record is missing",
			Err:     err,
		}
	case pqUndefinedTable:
		return &Error{
			Kind:    KindConflict,
			Code:    CodeConflict,
			Message: "Save failed: storage is not migrated",
			Status:  http.StatusInternalServerError,
			Err:     err,
		}
	}
	return err
}
