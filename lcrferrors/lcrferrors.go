// Package lcrferrors defines the error kinds the CRF core distinguishes,
// per the error handling design: low-level routines return a status,
// callers wrap it with context using github.com/pkg/errors so both the
// kind and the call chain survive.
package lcrferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way the rest of the package needs to react
// to it: some are fatal to the whole training call, some (Overflow) only
// abort the current epoch.
type Kind int

const (
	// OutOfMemory: any allocation failure during dataset load, feature
	// generation, context resizing, or model I/O.
	OutOfMemory Kind = iota
	// Incompatible: model file magic/version mismatch or chunk ordering
	// violation.
	Incompatible
	// Overflow: non-finite loss during SGD or PA; abort the current epoch.
	Overflow
	// NotSupported: intern() on a read-only dictionary, or an unknown
	// configuration parameter.
	NotSupported
	// InternalLogic: an invariant the caller was supposed to keep, such as
	// calling Viterbi on exponentiated tables.
	InternalLogic
	// NotImplemented: an operation the core intentionally omits.
	NotImplemented
	// IO: model file read/write failure.
	IO
)

func (k Kind) String() string {
	switch k {
	case OutOfMemory:
		return "OutOfMemory"
	case Incompatible:
		return "Incompatible"
	case Overflow:
		return "Overflow"
	case NotSupported:
		return "NotSupported"
	case InternalLogic:
		return "InternalLogic"
	case NotImplemented:
		return "NotImplemented"
	case IO:
		return "IO"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// crfError pairs a Kind with the message given to errors.New/Wrap, so that
// Cause() callers can recover the Kind with As/a type assertion.
type crfError struct {
	kind Kind
	msg  string
}

func (e *crfError) Error() string { return fmt.Sprintf("%s: %s", e.kind, e.msg) }

// New creates an error of the given kind.
func New(kind Kind, msg string) error {
	return &crfError{kind: kind, msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &crfError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and additional context to an existing error.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(&crfError{kind: kind, msg: msg}, err.Error())
}

// Wrapf is like Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(&crfError{kind: kind, msg: fmt.Sprintf(format, args...)}, err.Error())
}

// KindOf recovers the Kind carried by an error produced by this package,
// walking the causal chain built by github.com/pkg/errors. Returns
// InternalLogic if the error was not constructed here -- this represents
// an unreachable invariant in how the error was produced, not a guess.
func KindOf(err error) Kind {
	for err != nil {
		if ce, ok := err.(*crfError); ok {
			return ce.kind
		}
		cause := errors.Cause(err)
		if cause == err {
			break
		}
		err = cause
	}
	return InternalLogic
}
