// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package quickserve

import "fmt"

// ConfigurationError is returned by [New] when the resolved options
// can not describe a server.
type ConfigurationError struct {
	Reason string
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e ConfigurationError) Error() string {
	if e.Cause == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigurationError) Unwrap() error {
	return e.Cause
}

// LifecycleError is reported when a start or stop is requested
// from a state which does not allow it.
type LifecycleError struct {
	Op     string
	Reason string
	Cause  error
}

// Error implements the [builtin.error] interface.
func (e LifecycleError) Error() string {
	return e.Reason
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e LifecycleError) Unwrap() error {
	return e.Cause
}

var (
	// ErrAlreadyListening is reported by a start issued while listening.
	ErrAlreadyListening = LifecycleError{Op: "start", Reason: "Server is already listening."}

	// ErrNotListening is reported by a stop issued while idle.
	ErrNotListening = LifecycleError{Op: "stop", Reason: "Server is not listening."}
)

// TransportError wraps a failure of the underlying socket.
type TransportError struct {
	Op    string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e TransportError) Error() string {
	return fmt.Sprintf("failed to %s listener: %s", e.Op, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e TransportError) Unwrap() error {
	return e.Cause
}

// StateError is returned when a method is used while the server
// is in a state where it has no meaning.
type StateError struct {
	Reason string
}

// Error implements the [builtin.error] interface.
func (e StateError) Error() string {
	return e.Reason
}

// InvalidPortError describes a port value outside of [0, 65535] or one
// which could not be read as a port at all.
type InvalidPortError struct {
	Value string
}

// Error implements the [builtin.error] interface.
func (e InvalidPortError) Error() string {
	return e.Value + " is not a valid port number."
}

// UnknownPluginError is returned when a named plugin was never registered.
type UnknownPluginError struct {
	Name string
}

// Error implements the [builtin.error] interface.
func (e UnknownPluginError) Error() string {
	return fmt.Sprintf("unknown plugin: %q", e.Name)
}
