package core

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// ErrorKind classifies errors for callers that need to react to them (e.g. the HTTP layer).
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindUnauthenticated
	KindInvalidToken
	KindTokenExpired
	KindForbidden
	KindNotFound
	KindConflict
)

var kindNames = [...]string{
	KindInternal:        "internal",
	KindValidation:      "validation",
	KindUnauthenticated: "unauthenticated",
	KindInvalidToken:    "invalid_token",
	KindTokenExpired:    "token_expired",
	KindForbidden:       "forbidden",
	KindNotFound:        "not_found",
	KindConflict:        "conflict",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

var (
	ErrUnauthenticated = NewError(KindUnauthenticated, "user not authenticated")
	ErrForbidden       = NewError(KindForbidden, "permission denied")
)

// Error is a classified application error. Packages declare their sentinels with NewError.
type Error struct {
	Kind    ErrorKind
	Message string
}

func NewError(kind ErrorKind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

func (err *Error) Error() string {
	return err.Message
}

// KindOf returns the kind of the root cause of err. Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	switch cause := errors.Cause(err).(type) {
	case *Error:
		return cause.Kind
	case *ValidationError, validator.ValidationErrors:
		return KindValidation
	}
	return KindInternal
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
