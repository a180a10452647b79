// Package dberrors defines the error taxonomy shared by every layer of the
// driver: the codec, the parameter analyzer, the ownership tree and the pool.
package dberrors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeAlreadyDisposed is returned for operations on a torn-down handle
	ErrorTypeAlreadyDisposed
	// ErrorTypeNotOpen is returned when an operation needs an open resource
	ErrorTypeNotOpen
	// ErrorTypeNeedConnection is returned when no open connection was supplied
	ErrorTypeNeedConnection
	// ErrorTypeNeedTransaction is returned when no open transaction was supplied
	ErrorTypeNeedTransaction
	// ErrorTypeInvalidForPooledConnection is returned for lifecycle calls on a pooled proxy
	ErrorTypeInvalidForPooledConnection
	// ErrorTypeParameterCountMismatch is returned when the value count differs from the slot count
	ErrorTypeParameterCountMismatch
	// ErrorTypeMissingParameter is returned when a named parameter has no value
	ErrorTypeMissingParameter
	// ErrorTypeParameterTooLong is returned when a text value exceeds its slot
	ErrorTypeParameterTooLong
	// ErrorTypeInvalidBlobReference is returned for blob links owned by another connection
	ErrorTypeInvalidBlobReference
	// ErrorTypeUnsupportedType is returned for unknown native type codes
	ErrorTypeUnsupportedType
	// ErrorTypeInvalidValue is returned when a Go value cannot be stored in a slot
	ErrorTypeInvalidValue
	// ErrorTypeIndexNotFound is returned when a column position is out of range
	ErrorTypeIndexNotFound
	// ErrorTypeNameNotFound is returned when no column carries the requested alias
	ErrorTypeNameNotFound
	// ErrorTypeNativeCallFailed wraps the status carrier of a failed native call
	ErrorTypeNativeCallFailed
)

var typeNames = map[ErrorType]string{
	ErrorTypeUnknown:                    "Unknown",
	ErrorTypeAlreadyDisposed:            "AlreadyDisposed",
	ErrorTypeNotOpen:                    "NotOpen",
	ErrorTypeNeedConnection:             "NeedConnection",
	ErrorTypeNeedTransaction:            "NeedTransaction",
	ErrorTypeInvalidForPooledConnection: "InvalidForPooledConnection",
	ErrorTypeParameterCountMismatch:     "ParameterCountMismatch",
	ErrorTypeMissingParameter:           "MissingParameter",
	ErrorTypeParameterTooLong:           "ParameterTooLong",
	ErrorTypeInvalidBlobReference:       "InvalidBlobReference",
	ErrorTypeUnsupportedType:            "UnsupportedType",
	ErrorTypeInvalidValue:               "InvalidValue",
	ErrorTypeIndexNotFound:              "IndexNotFound",
	ErrorTypeNameNotFound:               "NameNotFound",
	ErrorTypeNativeCallFailed:           "NativeCallFailed",
}

func (t ErrorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ErrorType(%d)", int(t))
}

// Error represents a structured error with type information
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsType checks if the error is of a specific type
func (e *Error) IsType(errorType ErrorType) bool {
	return e.Type == errorType
}

// New creates a new Error with the specified type and message
func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// Newf is New with a format string.
func Newf(errorType ErrorType, format string, args ...any) *Error {
	return New(errorType, fmt.Sprintf(format, args...))
}

// Wrap creates a new Error with the specified type, message, and underlying cause
func Wrap(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// AlreadyDisposed reports an operation on a handle that was already torn down.
func AlreadyDisposed(what string) *Error {
	return Newf(ErrorTypeAlreadyDisposed, "%s is already disposed", what)
}

// NativeCallFailed wraps the status carrier returned by a native call.
func NativeCallFailed(call string, cause error) *Error {
	return Wrap(ErrorTypeNativeCallFailed, "native call "+call+" failed", cause)
}

// Is reports whether any error in err's chain is an *Error of the given type.
func Is(err error, errorType ErrorType) bool {
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return dbErr.IsType(errorType)
	}
	return false
}

// TypeOf returns the type of the first *Error in err's chain, or
// ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return dbErr.Type
	}
	return ErrorTypeUnknown
}

// IsAlreadyDisposed checks if an error reports a disposed handle
func IsAlreadyDisposed(err error) bool {
	return Is(err, ErrorTypeAlreadyDisposed)
}

// IsNativeCallFailed checks if an error came from the native layer
func IsNativeCallFailed(err error) bool {
	return Is(err, ErrorTypeNativeCallFailed)
}
