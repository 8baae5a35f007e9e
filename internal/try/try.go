// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package try converts panics and deferred close failures into errors.
package try

import (
	"errors"
	"fmt"
	"io"
)

// PanicError wraps a value recovered from a panic.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("recovered from panic: %v", e.Value)
}

// Unwrap returns the recovered value if it was itself an error.
func (e PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Recover must be deferred directly. It joins any recovered panic
// into the error referenced by err.
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}
	*err = errors.Join(*err, PanicError{Value: r})
}

// Call runs f and reports a panic from it as a PanicError.
func Call(f func()) (err error) {
	defer Recover(&err)
	f()
	return nil
}

// CloseError is returned when closing a resource fails after
// it was otherwise used successfully.
type CloseError struct {
	Cause error
}

// Error implements the error interface.
func (e CloseError) Error() string {
	return fmt.Sprintf("failed to close: %s", e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e CloseError) Unwrap() error {
	return e.Cause
}

// Close closes v if it is an io.Closer and joins any failure into err.
func Close(err *error, v any) {
	c, ok := v.(io.Closer)
	if !ok || c == nil {
		return
	}
	cerr := c.Close()
	if cerr == nil {
		return
	}
	*err = errors.Join(*err, CloseError{Cause: cerr})
}
