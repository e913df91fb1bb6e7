// Package walkerr defines the fatal error kinds the engine can surface.
//
// Every run-ending error produced anywhere in the engine carries one of these
// kinds so that cmd/walker can map it to the documented exit codes without
// string-matching messages.
package walkerr

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal engine error per spec §7.
type Kind string

const (
	KindCorrupt         Kind = "corrupt"
	KindMissingFile     Kind = "missing_file"
	KindQueueWriteError Kind = "queue_write_error"
	KindOverflowEncoding Kind = "overflow_encoding"
	KindConfigInvalid   Kind = "config_invalid"
)

// Error wraps an underlying cause with a Kind so callers can branch on it via
// errors.As, and wraps it for errors.Is/Unwrap compatibility.
type Error struct {
	Kind Kind
	Op   string // component/operation that raised it, e.g. "csrstore.LoadBlock"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err (or something it wraps) is an *Error of the given
// kind. Kind isn't an error, so `errors.Is(err, walkerr.KindCorrupt)` style
// checks are not available; use IsKind instead.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err (or something it wraps), and ok=false if
// err is not one of this package's errors.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func Corrupt(op string, err error) *Error         { return New(op, KindCorrupt, err) }
func MissingFile(op string, err error) *Error     { return New(op, KindMissingFile, err) }
func QueueWriteError(op string, err error) *Error { return New(op, KindQueueWriteError, err) }
func OverflowEncoding(op string, err error) *Error { return New(op, KindOverflowEncoding, err) }
func ConfigInvalid(op string, err error) *Error   { return New(op, KindConfigInvalid, err) }
