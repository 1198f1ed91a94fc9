// Package configerr defines the failure taxonomy shared by the configuration
// manager, its store and its validators.
//
// Every error carries a Kind. Callers match kinds with errors.Is against the
// package sentinels:
//
//	if errors.Is(err, configerr.ErrNotFound) { ... }
//
// The REST layer (not part of this module) maps Value to 400, NotFound and Key
// to 404, Forbidden to 403 and everything else to 500.
package configerr

import (
	"errors"
	"fmt"
)

// Kind classifies a configuration failure.
type Kind int

const (
	// KindType is a wrong primitive shape for an argument or item entry.
	KindType Kind = iota + 1
	// KindValue is a schema or business-rule violation, or a wrapped storage failure.
	KindValue
	// KindKey is a missing companion attribute, item or storage response field.
	KindKey
	// KindNotFound is an absent category, item or child.
	KindNotFound
	// KindForbidden is a permission failure for the calling role.
	KindForbidden
	// KindStorage marks a failure reported by the storage collaborator.
	KindStorage
	// KindCallback is a failed change subscriber.
	KindCallback
)

func (k Kind) String() string {
	switch k {
	case KindType:
		return "type"
	case KindValue:
		return "value"
	case KindKey:
		return "key"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindStorage:
		return "storage"
	case KindCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrType      = &Error{Kind: KindType, Msg: "type error"}
	ErrValue     = &Error{Kind: KindValue, Msg: "value error"}
	ErrKey       = &Error{Kind: KindKey, Msg: "key error"}
	ErrNotFound  = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrForbidden = &Error{Kind: KindForbidden, Msg: "forbidden"}
	ErrStorage   = &Error{Kind: KindStorage, Msg: "storage failure"}
	ErrCallback  = &Error{Kind: KindCallback, Msg: "callback failure"}
)

// Error is a classified configuration failure.
type Error struct {
	Kind Kind
	Msg  string
	// Payload holds the structured failure reported by the storage collaborator.
	Payload map[string]any
	// Err is the wrapped cause, if any.
	Err error
	// storage is set when the error translates a storage collaborator failure;
	// such errors surface as KindValue but still match ErrStorage.
	storage bool
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg != "" {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality against another *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == KindStorage && e.storage {
		return true
	}
	return e.Kind == t.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Typef returns a KindType error.
func Typef(format string, args ...any) error { return newf(KindType, format, args...) }

// Valuef returns a KindValue error.
func Valuef(format string, args ...any) error { return newf(KindValue, format, args...) }

// Keyf returns a KindKey error.
func Keyf(format string, args ...any) error { return newf(KindKey, format, args...) }

// NotFoundf returns a KindNotFound error.
func NotFoundf(format string, args ...any) error { return newf(KindNotFound, format, args...) }

// Forbiddenf returns a KindForbidden error.
func Forbiddenf(format string, args ...any) error { return newf(KindForbidden, format, args...) }

// Callback wraps a subscriber failure.
func Callback(subscriber, category string, err error) error {
	return &Error{
		Kind: KindCallback,
		Msg:  fmt.Sprintf("callback %s failed for category %s", subscriber, category),
		Err:  err,
	}
}

// FromStorage translates a storage collaborator failure into a value error
// carrying the collaborator's payload.
func FromStorage(payload map[string]any, cause error) error {
	msg := "storage failure"
	if m, ok := payload["message"].(string); ok && m != "" {
		msg = m
	}
	return &Error{Kind: KindValue, Msg: msg, Payload: payload, Err: cause, storage: true}
}

// KindOf returns the kind of err, or 0 when err is not classified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// IsForbidden reports whether err is a permission failure.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
