// Package errkind defines the error taxonomy shared by sessions, the bid
// ledger and the HTTP layer. Every failure that crosses an operation boundary
// is classified under one of the sentinel kinds so callers can use errors.Is.
package errkind

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrStore      = errors.New("store error")
	ErrMalformed  = errors.New("malformed message")
)

// Error carries the operation that failed, its kind and an optional cause.
// Fields lists offending field names for validation errors.
type Error struct {
	Op     string
	Kind   error
	Err    error
	Msg    string
	Fields []string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Kind != nil:
		b.WriteString(e.Kind.Error())
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// New builds an error of kind for op with a human readable message.
func New(op string, kind error, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Missing reports a validation failure naming the absent fields.
func Missing(op string, fields ...string) *Error {
	return &Error{Op: op, Kind: ErrValidation, Msg: "missing required fields", Fields: fields}
}

// KindOf returns the sentinel kind of err. Unclassified errors count as
// store errors.
func KindOf(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrMalformed, ErrStore} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrStore
}

// Message returns the most specific human readable text for err: the Msg of
// the outermost *Error if present, otherwise err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" && e.Err == nil {
		return e.Msg
	}
	return err.Error()
}

// FieldsOf returns the offending fields recorded on a validation error.
func FieldsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// Label returns a short metric label for the kind of err.
func Label(err error) string {
	switch KindOf(err) {
	case ErrValidation:
		return "validation"
	case ErrNotFound:
		return "not_found"
	case ErrConflict:
		return "conflict"
	case ErrMalformed:
		return "malformed"
	default:
		return "store"
	}
}
