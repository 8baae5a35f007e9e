// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package ptr provides helpers for the optional, pointer typed
// fields of quickserve.Options.
package ptr

// Ref returns a reference of the given value.
func Ref[T any](t T) *T {
	return &t
}

// Or returns the dereferenced value of t, or def if t is nil.
func Or[T any](t *T, def T) T {
	if t == nil {
		return def
	}
	return *t
}

// Clone returns a new reference holding a copy of *t, or nil if t is nil.
func Clone[T any](t *T) *T {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
