// Package serrors provides errors annotated with structured key/value
// context, in the style this module's log lines use. A serrors.Error wraps
// an optional cause and carries a flat list of fields that are rendered in
// both Error() and in log output.
package serrors

import (
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Error is a message optionally wrapping a cause, with key/value context.
type Error struct {
	msg    string
	cause  error
	fields []any
}

// New creates a context-less error with key/value fields, e.g.
// serrors.New("no route", "dest", dest, "table_size", size).
func New(msg string, fields ...any) error {
	return &Error{msg: msg, fields: fields}
}

// Wrap annotates an existing error with a message and key/value fields. The
// original error remains reachable through errors.Unwrap/errors.Is/As and a
// stack trace is captured at the wrap site via github.com/pkg/errors.
func Wrap(msg string, cause error, fields ...any) error {
	if cause == nil {
		return New(msg, fields...)
	}
	return &Error{msg: msg, cause: pkgerrors.WithStack(cause), fields: fields}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.msg)
	if len(e.fields) > 0 {
		b.WriteString(" (")
		for i := 0; i < len(e.fields); i += 2 {
			if i > 0 {
				b.WriteString(", ")
			}
			if i+1 < len(e.fields) {
				fmt.Fprintf(&b, "%v=%v", e.fields[i], e.fields[i+1])
			} else {
				fmt.Fprintf(&b, "%v", e.fields[i])
			}
		}
		b.WriteString(")")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Fields returns the flat key/value list attached to e, for loggers that
// want to render them as structured fields instead of inline text.
func (e *Error) Fields() []any {
	return e.fields
}
