// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package slogfield names the structured log attributes quickserve emits.
package slogfield

import (
	"log/slog"
	"time"
)

// Error returns an slog.Attr for a error.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// Port returns an slog.Attr for a TCP port.
func Port(n int) slog.Attr {
	return slog.Int("port", n)
}

// Scheme returns an slog.Attr for a URL scheme.
func Scheme(s string) slog.Attr {
	return slog.String("scheme", s)
}

// Op returns an slog.Attr naming a lifecycle operation.
func Op(op string) slog.Attr {
	return slog.String("op", op)
}

// Duration returns an slog.Attr for a time.Duration.
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Duration(key, d)
}

// String returns an slog.Attr for a string.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}
