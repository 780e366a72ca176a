package kv

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// CodeUnavailable indicates the backend could not be reached or failed.
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeTypeMismatch indicates a key holds a value of a different kind
	// than the one requested.
	CodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// CodeClosed indicates the store was closed.
	CodeClosed ErrorCode = "CLOSED"
)

// Error is returned by Store operations.
//
// Error carries structured fields for diagnostics. Sentinel values
// (ErrUnavailable, ErrTypeMismatch, ErrClosed) match any Error with the same
// code under errors.Is.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the store operation that failed (e.g. "get", "commit").
	Op string

	// Key is the affected key, if any.
	Key string

	// Err is the underlying cause, if any.
	Err error
}

var (
	ErrUnavailable  = &Error{Code: CodeUnavailable}
	ErrTypeMismatch = &Error{Code: CodeTypeMismatch}
	ErrClosed       = &Error{Code: CodeClosed}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Key != "" {
		msg = fmt.Sprintf("%s (key=%s)", msg, e.Key)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Key == "" && t.Err == nil && t.Code == e.Code
}

// IsUnavailable returns true if the store could not serve the request.
// A closed store is unavailable too. Uses errors.As to handle wrapped errors.
func IsUnavailable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeUnavailable || e.Code == CodeClosed
	}
	return false
}

// IsTypeMismatch returns true if the error is a type mismatch.
func IsTypeMismatch(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeTypeMismatch
	}
	return false
}

// IsClosed returns true if the store was closed.
func IsClosed(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeClosed
	}
	return false
}

// Unavailable wraps a backend failure. An err that is already an *Error is
// returned unchanged.
func Unavailable(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: CodeUnavailable, Op: op, Key: key, Err: err}
}

// TypeMismatch reports that key holds got where want was requested.
func TypeMismatch(op, key string, want, got Kind) *Error {
	return &Error{
		Code: CodeTypeMismatch,
		Op:   op,
		Key:  key,
		Err:  fmt.Errorf("want %s, stored %s", want, got),
	}
}

func closedError(op, key string) *Error {
	return &Error{Code: CodeClosed, Op: op, Key: key}
}
