// Package errors defines the coded errors returned above the protocol layer:
// session acquisition, descriptor persistence, driver startup, leases and
// configuration. Protocol failures keep their own types in pkg/protocol and
// are wrapped, never flattened, when they cross into this package.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorCode classifies an Error for callers and for exit codes.
type ErrorCode string

const (
	// Configuration
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Session acquisition
	ErrCodeSessionAcquisition ErrorCode = "SESSION_ACQUISITION"
	ErrCodeAuthLoad           ErrorCode = "AUTH_LOAD"

	// Descriptor persistence
	ErrCodeDescriptorSchema ErrorCode = "DESCRIPTOR_SCHEMA"
	ErrCodeDescriptorIO     ErrorCode = "DESCRIPTOR_IO"

	// Driver process
	ErrCodeDriverNotFound ErrorCode = "DRIVER_NOT_FOUND"
	ErrCodeDriverLaunch   ErrorCode = "DRIVER_LAUNCH"

	// Coordinator leases
	ErrCodeLeaseUnavailable ErrorCode = "LEASE_UNAVAILABLE"
	ErrCodeLeaseBackend     ErrorCode = "LEASE_BACKEND"

	// Generic
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error is a coded error with optional context and remediation hints.
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	Stack       []Frame
	Retryable   bool
	Remediation []string
}

// Frame is one captured call site.
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates an Error without a cause.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	e := New(code, fmt.Sprintf(format, args...))
	e.Stack = captureStack(2)
	return e
}

// Wrap attaches a code and message to err. Wrap(nil, ...) is nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
		Stack:      captureStack(2),
	}
}

// WithContext adds a key/value pair rendered by Error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks whether a caller may retry.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithRemediation replaces the remediation hints.
func (e *Error) WithRemediation(tips ...string) *Error {
	if len(tips) == 0 {
		return e
	}
	e.Remediation = append([]string{}, tips...)
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", k, e.Context[k])
		}
		sb.WriteString("}")
	}
	if e.Underlying != nil {
		fmt.Fprintf(&sb, ": %v", e.Underlying)
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// StackTrace renders the captured frames.
func (e *Error) StackTrace() string {
	var sb strings.Builder
	sb.WriteString("Stack trace:\n")
	for i, frame := range e.Stack {
		fmt.Fprintf(&sb, "  %d. %s\n     %s:%d\n", i+1, frame.Function, frame.File, frame.Line)
	}
	return sb.String()
}

func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr

	n := runtime.Callers(skip+1, pcs[:])
	iter := runtime.CallersFrames(pcs[:n])
	frames := make([]Frame, 0, n)
	for {
		f, more := iter.Next()
		frames = append(frames, Frame{Function: f.Function, File: f.File, Line: f.Line})
		if !more {
			break
		}
	}
	return frames
}

// As finds the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded, true
	}
	return nil, false
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		coded, ok := As(err)
		if !ok {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.Underlying
	}
	return false
}

// GetCode returns the outermost code, INTERNAL for uncoded errors and "" for nil.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if coded, ok := As(err); ok {
		return coded.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports the outermost Error's retry flag.
func IsRetryable(err error) bool {
	coded, ok := As(err)
	return ok && coded.Retryable
}
