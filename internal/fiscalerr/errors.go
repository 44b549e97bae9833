// Package fiscalerr carries the error taxonomy shared by the certificate,
// connector, sync and export packages. Every failure surfaced to callers
// resolves to a category and a stable snake_case code.
package fiscalerr

import (
	"context"
	"errors"
	"strings"
)

type Category string

const (
	CategoryValidation Category = "validation"
	CategoryAuth       Category = "auth"
	CategoryTransport  Category = "transport"
	CategoryConflict   Category = "conflict"
	CategoryNotFound   Category = "not_found"
	CategoryInternal   Category = "internal"
)

type Error struct {
	Category Category
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on category and code so a wrapped copy still matches its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

func newError(category Category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

func Validation(code, message string) *Error { return newError(CategoryValidation, code, message) }
func Auth(code, message string) *Error       { return newError(CategoryAuth, code, message) }
func Transport(code, message string) *Error  { return newError(CategoryTransport, code, message) }
func Conflict(code, message string) *Error   { return newError(CategoryConflict, code, message) }
func NotFound(code, message string) *Error   { return newError(CategoryNotFound, code, message) }

// Wrap returns a copy of sentinel carrying cause.
func Wrap(sentinel *Error, cause error) *Error {
	if sentinel == nil {
		return nil
	}
	out := *sentinel
	out.Err = cause
	return &out
}

// WithMessage returns a copy of sentinel with a more specific human message.
func WithMessage(sentinel *Error, message string) *Error {
	if sentinel == nil {
		return nil
	}
	out := *sentinel
	if strings.TrimSpace(message) != "" {
		out.Message = message
	}
	return &out
}

var (
	ErrTimeout  = Transport("timeout", "the operation timed out")
	ErrCanceled = Transport("canceled", "the operation was canceled")
	ErrInternal = newError(CategoryInternal, "internal_error", "internal error")
)

// As resolves err to a taxonomy error. Context deadlines and cancellations
// are transport failures; anything unclassified is internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) && fe != nil {
		return fe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return Wrap(ErrCanceled, err)
	default:
		return Wrap(ErrInternal, err)
	}
}

func CategoryOf(err error) Category {
	if fe := As(err); fe != nil {
		return fe.Category
	}
	return ""
}

func IsCategory(err error, category Category) bool {
	return err != nil && CategoryOf(err) == category
}

// Summary renders err as the structured cause persisted on failed runs and
// jobs and returned by the API.
func Summary(err error) map[string]any {
	fe := As(err)
	if fe == nil {
		return nil
	}
	summary := map[string]any{
		"category": string(fe.Category),
		"code":     fe.Code,
		"message":  fe.Message,
	}
	if fe.Err != nil {
		summary["detail"] = fe.Err.Error()
	}
	return summary
}
