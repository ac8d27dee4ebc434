// Package perrors centralizes the error taxonomy of spec.md §6/§7: negated
// POSIX-style codes shared by the store API, the transfer driver, and the
// RAID1 locator, plus the medium-global/per-target classification used by
// the driver's batch return-code priority rule.
package perrors

import (
	"github.com/pkg/errors"
)

// Code is a negated-POSIX-style error code, as returned at the store API
// boundary (spec §6).
type Code int

const (
	ENOENT       Code = -2  // no such object/extent
	EINVAL       Code = -22 // ambiguous uuid/oid, malformed input
	EAGAIN       Code = -11 // no host can currently reach the object
	ENODEV       Code = -19 // no medium exists
	EADDRNOTAVAIL Code = -99 // cannot resolve local hostname
	EREMOTE      Code = -66 // best host is elsewhere
	EEXIST       Code = -17 // lock taken / alive row already exists
	ENOLCK       Code = -37 // lock missing
	EACCES       Code = -13 // lock owner mismatch
)

// Error pairs a Code with a human-readable cause and marks whether it is
// medium-global (spec §4.4 "Per-xfer return code", §7 "Medium-global").
type Error struct {
	Code       Code
	Op         string
	cause      error
	mediumGlob bool
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Op + ": " + e.cause.Error()
	}
	return e.Op
}

func (e *Error) Unwrap() error { return e.cause }

// IsMediumGlobal reports whether this error should become the batch-level
// representative regardless of position (spec §4.4, §7).
func (e *Error) IsMediumGlobal() bool { return e.mediumGlob }

// New wraps cause (may be nil) under op with code.
func New(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, cause: cause}
}

// NewMediumGlobal is New but flagged as a medium-global error.
func NewMediumGlobal(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, cause: cause, mediumGlob: true}
}

// Wrap attaches op context to cause using pkg/errors, preserving the stack.
func Wrap(cause error, op string) error {
	if cause == nil {
		return nil
	}
	return errors.Wrap(cause, op)
}

// CodeOf extracts the Code from err, or 0 if err is nil, or EINVAL if err is
// a plain (non-*Error) error — matching the "else the first non-zero" rule
// of spec §4.4 needing *some* non-zero code for unclassified failures.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return EINVAL
}

// IsMediumGlobal reports whether err (or something it wraps) is flagged
// medium-global.
func IsMediumGlobal(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.mediumGlob
	}
	return false
}
