package problem

import (
	"errors"
	"fmt"
)

// Error is a domain error created by a registered Kind. It is immutable once
// created. The cause is internal only: it is reachable through Unwrap for
// logging and errors.Is/As, but ToProblem never copies it.
type Error struct {
	kind   *Kind
	detail string
	meta   map[string]any
	cause  error
}

// Option configures an Error at creation time.
type Option func(*Error)

// WithDetail sets the human-readable detail.
func WithDetail(detail string) Option {
	return func(e *Error) {
		e.detail = detail
	}
}

// WithDetailf sets the detail from a format string.
func WithDetailf(format string, args ...any) Option {
	return func(e *Error) {
		e.detail = fmt.Sprintf(format, args...)
	}
}

// WithMeta merges structured metadata into the error.
// Never put secrets, credentials or personal data in meta: it is serialised
// to clients.
func WithMeta(meta map[string]any) Option {
	return func(e *Error) {
		if len(meta) == 0 {
			return
		}
		if e.meta == nil {
			e.meta = make(map[string]any, len(meta))
		}
		for k, v := range meta {
			e.meta[k] = v
		}
	}
}

// WithField adds a single metadata entry.
func WithField(key string, value any) Option {
	return WithMeta(map[string]any{key: value})
}

// WithCause records the underlying error. The cause stays server-side.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// Error implements the error interface. The message includes the cause and
// is intended for logs, not for clients.
func (e *Error) Error() string {
	msg := e.kind.code
	if e.detail != "" {
		msg += ": " + e.detail
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the internal cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is this error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(*Kind)
	return ok && k == e.kind
}

// Kind returns the registered kind.
func (e *Error) Kind() *Kind {
	return e.kind
}

// Code returns "<domain>/<kind-slug>".
func (e *Error) Code() string {
	return e.kind.code
}

// Domain returns the domain name.
func (e *Error) Domain() string {
	return e.kind.domain.name
}

// Status returns the HTTP status.
func (e *Error) Status() int {
	return e.kind.status
}

// Title returns the i18n title key.
func (e *Error) Title() string {
	return e.kind.title
}

// Detail returns the human-readable detail, if any.
func (e *Error) Detail() string {
	return e.detail
}

// Meta returns a copy of the metadata.
func (e *Error) Meta() map[string]any {
	return copyMeta(e.meta)
}

// Cause returns the internal cause, if any.
func (e *Error) Cause() error {
	return e.cause
}

// As is the canonical type guard for domain errors. It finds the outermost
// *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// FromError returns err as a domain error. Errors that are not domain errors
// become system/unexpected with the original kept as the internal cause.
// A nil err returns nil.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return ErrUnexpected.New(WithCause(err))
}

func copyMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
