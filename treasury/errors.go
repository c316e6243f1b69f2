/*
errors.go - Error kinds shared by every package

PURPOSE:
  All user-facing failures are one of four kinds. Each carries a Spanish
  message that callers display as-is. Handlers map the kind to an HTTP
  status; services never build HTTP errors themselves.

ERROR KINDS:
  NotFound       referenced fund/transaction/report/church is missing or out of scope
  Validation     malformed input or a business rule rejected the request
  Authorization  caller's role or church does not allow the operation
  Conflict       uniqueness violation (report period, fund name)

USAGE:
  if errors.Is(err, treasury.ErrNotFound) { ... }

  var te *treasury.Error
  if errors.As(err, &te) { fmt.Println(te.Message) }
*/
package treasury

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrAuthorization = errors.New("not authorized")
	ErrConflict      = errors.New("conflict")
)

type Kind int

const (
	KindNotFound Kind = iota + 1
	KindValidation
	KindAuthorization
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	}
	return "unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	case KindAuthorization:
		return ErrAuthorization
	case KindConflict:
		return ErrConflict
	}
	return nil
}

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is a display-ready failure. Field names the offending input when
// there is one.
type Error struct {
	Kind    Kind
	Field   string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind.sentinel() }

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(field, format string, args ...any) error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or 0 when err is not a treasury error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// IsClientError returns true if the error is due to the caller's input or rights.
func IsClientError(err error) bool {
	return KindOf(err) != 0
}
