package ics

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// MalformedInput means the document cannot be decoded or lacks a mandatory field.
	MalformedInput ErrorKind = iota + 1
	// UnsupportedTimezoneFormat means zone information is present but cannot be resolved.
	UnsupportedTimezoneFormat
	// PreconditionViolation is a caller defect, such as generating an invite
	// for an attendee without an address.
	PreconditionViolation
)

func (k ErrorKind) String() string {
	switch k {
	case MalformedInput:
		return "malformed input"
	case UnsupportedTimezoneFormat:
		return "unsupported timezone format"
	case PreconditionViolation:
		return "precondition violation"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the only error type the parser and generator return for bad input.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of an ICS error anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var icsErr *Error
	if errors.As(err, &icsErr) {
		return icsErr.Kind, true
	}
	return 0, false
}

func malformed(format string, args ...any) *Error {
	return &Error{Kind: MalformedInput, Msg: fmt.Sprintf(format, args...)}
}

func unsupported(format string, args ...any) *Error {
	return &Error{Kind: UnsupportedTimezoneFormat, Msg: fmt.Sprintf(format, args...)}
}

func precondition(format string, args ...any) *Error {
	return &Error{Kind: PreconditionViolation, Msg: fmt.Sprintf(format, args...)}
}
