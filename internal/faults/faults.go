// Package faults classifies pipeline failures into the four kinds the
// evidence pipeline reacts to differently: validation, integrity, transient
// and fatal.
package faults

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Kind is the failure class of an Error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindIntegrity  Kind = "integrity"
	KindTransient  Kind = "transient"
	KindFatal      Kind = "fatal"
)

var (
	ErrMalformedFilename  = errors.New("malformed filename")
	ErrMalformedTimestamp = errors.New("malformed timestamp")
	ErrEmptyLog           = errors.New("empty log")
	ErrNoValidMessages    = errors.New("no valid messages")
	ErrDigestMismatch     = errors.New("digest mismatch")
	ErrMissingDigest      = errors.New("missing digest")
	ErrDigestUnavailable  = errors.New("sha-256 unavailable")
)

// Error is a classified failure tied to an operation and, when known, to
// the device and category it concerns.
type Error struct {
	Kind     Kind
	Op       string
	DeviceID string
	Category string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Op + ": "
	if e.DeviceID != "" || e.Category != "" {
		msg += fmt.Sprintf("[%s/%s] ", e.DeviceID, e.Category)
	}
	if e.Reason != "" {
		msg += e.Reason
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	}
	if e.Err != nil {
		return msg + e.Err.Error()
	}
	return msg + string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation wraps err as a validation failure.
func Validation(op string, err error, reason string) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err, Reason: reason}
}

// Integrity wraps err as an integrity failure.
func Integrity(op string, err error, reason string) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Err: err, Reason: reason}
}

// Transient wraps err as a retryable I/O failure.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Fatal wraps err as a non-retryable failure.
func Fatal(op string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// WithPair returns a copy of e annotated with a device and category.
func (e *Error) WithPair(deviceID, category string) *Error {
	out := *e
	out.DeviceID = deviceID
	out.Category = category
	return &out
}

// KindOf reports the kind of the first *Error in err's chain. Unclassified
// errors are treated as fatal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindFatal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// LogRejection writes the audit record for a rejected artifact or report.
// It runs after the decision is made and has no return value, so a logging
// failure cannot change the outcome.
func LogRejection(logger zerolog.Logger, err error) {
	if err == nil {
		return
	}
	ev := logger.Warn()
	if KindOf(err) == KindFatal {
		ev = logger.Error()
	}
	var fe *Error
	if errors.As(err, &fe) {
		ev = ev.Str("op", fe.Op).
			Str("device_id", fe.DeviceID).
			Str("category", fe.Category).
			Str("reason", fe.Reason)
	}
	ev.Str("kind", string(KindOf(err))).Err(err).Msg("rejected")
}
