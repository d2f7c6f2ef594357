package models

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrCommunication ErrorType = iota
	ErrDevice
	ErrProtocol
	ErrTimeout
	ErrInvalidConfig
	ErrInvalidAxis
	ErrFileOp
	ErrSigning
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrCommunication:
		return "Communication"
	case ErrDevice:
		return "Device"
	case ErrProtocol:
		return "Protocol"
	case ErrTimeout:
		return "Timeout"
	case ErrInvalidConfig:
		return "InvalidConfig"
	case ErrInvalidAxis:
		return "InvalidAxis"
	case ErrFileOp:
		return "FileOp"
	case ErrSigning:
		return "Signing"
	default:
		return "Unknown"
	}
}

// AlbaEMError represents an error while talking to or driving an electrometer
type AlbaEMError struct {
	Type    ErrorType
	Command string
	Err     error
}

// Error implements the error interface
func (e *AlbaEMError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Command, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *AlbaEMError) Unwrap() error {
	return e.Err
}

// NewError builds an AlbaEMError from a formatted message
func NewError(t ErrorType, format string, args ...interface{}) *AlbaEMError {
	return &AlbaEMError{Type: t, Err: fmt.Errorf(format, args...)}
}

// IsType reports whether err wraps an AlbaEMError of the given type
func IsType(err error, t ErrorType) bool {
	var ae *AlbaEMError
	if errors.As(err, &ae) {
		return ae.Type == t
	}
	return false
}
