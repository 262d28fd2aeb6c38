// Package apperror defines the domain error taxonomy shared by the service and
// HTTP layers.
//
// The service layer returns *AppError values wrapping one of the sentinels
// below. The handler package maps each sentinel to an HTTP status with
// errors.Is, so services never know about status codes.
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("Validation Error")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrUnavailable       = errors.New("upstream unavailable")
)

type AppError struct {
	Err     error    // actual error
	Message string   // Human-readable error message
	Field   string   // Optional: field causing the error
	Fields  []string // Optional: every offending field when more than one failed
	cause   error    // Optional: underlying infrastructure error, never shown to clients
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Err, e.cause}
	}
	return []error{e.Err}
}

// Cause returns the infrastructure error behind an Unavailable error, if any.
func (e *AppError) Cause() error {
	return e.cause
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
		Fields:  []string{field},
	}
}

// FieldErrors collects per-field validation messages so a single request can
// report every offending field at once.
type FieldErrors struct {
	fields   []string
	messages []string
}

// Add records a failed field. Repeated fields are kept once.
func (f *FieldErrors) Add(field, message string) {
	for _, existing := range f.fields {
		if existing == field {
			return
		}
	}
	f.fields = append(f.fields, field)
	f.messages = append(f.messages, message)
}

// Empty reports whether no field failed.
func (f *FieldErrors) Empty() bool {
	return len(f.fields) == 0
}

// Err returns nil when nothing failed, otherwise a validation AppError whose
// message joins the individual messages.
func (f *FieldErrors) Err() error {
	if f.Empty() {
		return nil
	}
	return &AppError{
		Err:     ErrValidation,
		Message: strings.Join(f.messages, "; "),
		Field:   f.fields[0],
		Fields:  append([]string(nil), f.fields...),
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// DuplicateIdentity reports a registration for an email that is already taken.
func DuplicateIdentity() *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: "an account with this email already exists",
		Field:   "email",
		Fields:  []string{"email"},
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// IllegalTransition reports a lifecycle change the current status does not allow.
func IllegalTransition(from, to string) *AppError {
	return &AppError{
		Err:     ErrIllegalTransition,
		Message: fmt.Sprintf("listing cannot move from %s to %s", from, to),
	}
}

// NotEditable reports an edit of a listing that has left the active state.
func NotEditable(status string) *AppError {
	return &AppError{
		Err:     ErrIllegalTransition,
		Message: fmt.Sprintf("listing is %s and can no longer be edited", status),
	}
}

// StatusChanged reports a lifecycle write that lost a race: the listing's
// status changed between the read and the write.
func StatusChanged() *AppError {
	return &AppError{
		Err:     ErrIllegalTransition,
		Message: "listing status changed, reload and try again",
	}
}

// InvalidCredential is deliberately generic: unknown email and wrong password
// must be indistinguishable to the caller.
func InvalidCredential() *AppError {
	return &AppError{
		Err:     ErrInvalidCredential,
		Message: "invalid email or password",
	}
}

// Unauthorized reports a missing, expired, revoked, or malformed token.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Unavailable wraps a store or blob-storage failure. The cause is kept for
// logging but the message stays generic.
func Unavailable(collaborator string, cause error) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: fmt.Sprintf("%s is temporarily unavailable", collaborator),
		cause:   cause,
	}
}
