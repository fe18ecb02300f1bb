// Package errors defines the error taxonomy shared by the sandbox, the tool
// executor and the orchestrator, plus panic recovery and error aggregation helpers.
package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

// Kind classifies an error for propagation and retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindAccessDenied
	KindCommandDenied
	KindResourceExceeded
	KindValidation
	KindNotFound
	KindTransient
	KindExecution
	KindOrchestration
)

// String returns the string representation of a kind
func (k Kind) String() string {
	switch k {
	case KindAccessDenied:
		return "access_denied"
	case KindCommandDenied:
		return "command_denied"
	case KindResourceExceeded:
		return "resource_exceeded"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindExecution:
		return "execution"
	case KindOrchestration:
		return "orchestration"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed (e.g. "read_file").
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Detail()
	}
	return e.Op + ": " + e.Detail()
}

// Detail returns the message without the operation prefix.
func (e *Error) Detail() string {
	var b strings.Builder
	b.WriteString(e.Msg)
	if e.Err != nil {
		if e.Msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// AccessDenied reports a path escaping the workspace.
func AccessDenied(op, format string, args ...any) *Error {
	return New(KindAccessDenied, op, format, args...)
}

// CommandDenied reports a command rejected by the command policy.
func CommandDenied(op, format string, args ...any) *Error {
	return New(KindCommandDenied, op, format, args...)
}

// ResourceExceeded reports a size or time limit that was hit.
func ResourceExceeded(op, format string, args ...any) *Error {
	return New(KindResourceExceeded, op, format, args...)
}

// Validation reports malformed input.
func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, format, args...)
}

// NotFound reports a missing path or entity.
func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, format, args...)
}

// NewTransientError marks err as safe to retry.
func NewTransientError(op string, err error) *Error {
	return Wrap(KindTransient, op, err)
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PanicError wraps a recovered panic value with the stack at the time of the panic.
type PanicError struct {
	Value      any
	StackTrace string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recover runs fn and converts a panic into a *PanicError.
func Recover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, StackTrace: string(debug.Stack())}
		}
	}()
	return fn()
}

// MultiError collects several errors, e.g. from shutdown of independent components.
type MultiError struct {
	Errors []error
}

// Append adds a non-nil error.
func (m *MultiError) Append(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

func (m *MultiError) Error() string {
	msgs := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d error(s): %s", len(m.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the collected errors to errors.Is / errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// ErrorOrNil returns nil when nothing was collected.
func (m *MultiError) ErrorOrNil() error {
	if m == nil || len(m.Errors) == 0 {
		return nil
	}
	return m
}
