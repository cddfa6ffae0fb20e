package domain

import (
	"errors"
	"fmt"

	"github.com/adfharrison1/go-reql/pkg/datum"
)

// Error categories. Every error returned by the driver matches exactly one of
// them with errors.Is.
var (
	ErrConnection      = errors.New("connection error")
	ErrProtocol        = errors.New("protocol error")
	ErrQuery           = errors.New("query error")
	ErrWriteConflict   = errors.New("write conflict")
	ErrCursorExhausted = errors.New("cursor exhausted")
	ErrCursorClosed    = errors.New("cursor closed")

	// ErrConnectionClosed is the cause carried by a ConnectionError when the
	// session was closed locally.
	ErrConnectionClosed = errors.New("connection closed")

	ErrMalformedValue = datum.ErrMalformedValue
)

// ConnectionError reports a handshake or transport failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection error during %s", e.Op)
	}
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConnection}
	}
	return []error{ErrConnection, e.Err}
}

// ProtocolError reports a malformed or unexpected response.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol error: " + e.Msg
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Msg, e.Err)
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProtocol}
	}
	return []error{ErrProtocol, e.Err}
}

// QueryErrorCode classifies query failures reported by the server.
type QueryErrorCode uint16

const (
	CodeUnknown QueryErrorCode = iota
	CodeCompile
	CodeTypeMismatch
	CodeEmptyReduce
	CodeDivisionByZero
	CodeMissingField
	CodeIndexNotFound
	CodeNotFound
	CodeAlreadyExists
	CodeOpFailed
)

func (c QueryErrorCode) String() string {
	switch c {
	case CodeCompile:
		return "Compile"
	case CodeTypeMismatch:
		return "TypeMismatch"
	case CodeEmptyReduce:
		return "EmptyReduce"
	case CodeDivisionByZero:
		return "DivisionByZero"
	case CodeMissingField:
		return "MissingField"
	case CodeIndexNotFound:
		return "IndexNotFound"
	case CodeNotFound:
		return "NotFound"
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeOpFailed:
		return "OpFailed"
	default:
		return "Unknown"
	}
}

// QueryError is an operator failure that aborts the whole operation.
type QueryError struct {
	Code QueryErrorCode
	Msg  string
}

// Sentinels for errors.Is on a specific code.
var (
	ErrEmptyReduce    = &QueryError{Code: CodeEmptyReduce}
	ErrDivisionByZero = &QueryError{Code: CodeDivisionByZero}
	ErrMissingField   = &QueryError{Code: CodeMissingField}
	ErrIndexNotFound  = &QueryError{Code: CodeIndexNotFound}
	ErrNotFound       = &QueryError{Code: CodeNotFound}
	ErrAlreadyExists  = &QueryError{Code: CodeAlreadyExists}
	ErrTypeMismatch   = &QueryError{Code: CodeTypeMismatch}
	ErrCompile        = &QueryError{Code: CodeCompile}
	ErrOpFailed       = &QueryError{Code: CodeOpFailed}
)

// NewQueryError builds a QueryError with a formatted message.
func NewQueryError(code QueryErrorCode, format string, args ...interface{}) *QueryError {
	return &QueryError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *QueryError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("query error (%s)", e.Code)
	}
	return fmt.Sprintf("query error (%s): %s", e.Code, e.Msg)
}

// Is matches ErrQuery and any code sentinel with the same code.
func (e *QueryError) Is(target error) bool {
	if target == ErrQuery {
		return true
	}
	t, ok := target.(*QueryError)
	return ok && t.Msg == "" && t.Code == e.Code
}

// WriteError summarizes per-document failures of a write that otherwise
// completed.
type WriteError struct {
	Errors     int
	FirstError string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write conflict: %d document(s) failed, first error: %s", e.Errors, e.FirstError)
}

func (e *WriteError) Unwrap() error { return ErrWriteConflict }
