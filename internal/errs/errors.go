// Package errs defines the structured error type shared across the reactor
// core, mirroring the code/context convention the rest of the stack uses
// instead of bare sentinel errors.
package errs

import "fmt"

// Code classifies an Error for callers that need to branch on kind rather
// than match strings.
type Code int

const (
	CodeInternal Code = iota
	CodeInvalidArgument
	CodeProtocolViolation
	CodeResourceExhausted
	CodeNotFound
	CodeContractViolation
	CodeConfiguration
)

// Error is a structured error carrying a Code and optional context values,
// used at package boundaries (reactor, wsproto, httpproto) so callers can
// branch on Code instead of string-matching.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	cause   error
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a structured error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a structured error that also carries an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithContext attaches a key/value pair to the error, returning the same
// instance for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
