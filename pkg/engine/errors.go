// Package engine runs a workspace graph on a fixed-period tick loop: it
// builds the execution order, opens every instance, propagates port
// values in deterministic topological order once per tick, measures its
// own timing fidelity, and exposes state to external consumers through a
// non-blocking bridge.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an engine error for recovery logic.
type ErrorClass string

const (
	// ErrorClassConfig is a bad variable or port at Configure time.
	// Surfaces to the caller before the engine ever runs.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassBuild is an invalid graph: a cycle without a delay edge,
	// a dangling endpoint, or a type mismatch. Aborts before Running.
	ErrorClassBuild ErrorClass = "build"

	// ErrorClassOpen is a failed resource acquisition during build.
	// Aborts the build identically to a build error.
	ErrorClassOpen ErrorClass = "open"

	// ErrorClassProcess is a recoverable per-tick fault: recorded, the
	// instance holds its previous outputs, and the run continues.
	ErrorClassProcess ErrorClass = "process"

	// ErrorClassFatal forces Stopping and unconditional resource
	// release.
	ErrorClassFatal ErrorClass = "fatal"
)

// Error is a classified engine error carrying the instance and tick it
// originated from.
type Error struct {
	// Class is the error classification.
	Class ErrorClass

	// Message is the human-readable description.
	Message string

	// Instance is the plugin instance involved, 0 when not applicable.
	Instance uint64

	// Kind is the plugin kind of the instance, when known.
	Kind string

	// Tick is the tick sequence number at fault time, for process and
	// fatal classes.
	Tick uint64

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Instance != 0 {
		msg += fmt.Sprintf(" (instance=%d", e.Instance)
		if e.Kind != "" {
			msg += fmt.Sprintf(" kind=%s", e.Kind)
		}
		if e.Class == ErrorClassProcess || e.Class == ErrorClassFatal {
			msg += fmt.Sprintf(" tick=%d", e.Tick)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is matches on class, so errors.Is can check classification regardless
// of detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// IsClass reports whether err is an engine error of the given class.
func IsClass(err error, class ErrorClass) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == class
}

func newConfigError(instance uint64, kind string, err error) *Error {
	return &Error{Class: ErrorClassConfig, Message: "configuration rejected", Instance: instance, Kind: kind, Err: err}
}

func newBuildError(err error) *Error {
	return &Error{Class: ErrorClassBuild, Message: "graph validation failed", Err: err}
}

func newOpenError(instance uint64, kind string, err error) *Error {
	return &Error{Class: ErrorClassOpen, Message: "open failed", Instance: instance, Kind: kind, Err: err}
}

func newProcessFault(instance uint64, kind string, tick uint64, err error) *Error {
	return &Error{Class: ErrorClassProcess, Message: "process fault", Instance: instance, Kind: kind, Tick: tick, Err: err}
}

func newFatalFault(instance uint64, kind string, tick uint64, message string, err error) *Error {
	return &Error{Class: ErrorClassFatal, Message: message, Instance: instance, Kind: kind, Tick: tick, Err: err}
}
