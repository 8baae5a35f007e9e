// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Store represents a general key value structure. Keys are dot
// separated paths, e.g. "port.public".
type Store interface {
	Set(key string, value any) error
}

// Source defines valid config sources as those who can
// serialize themselves into a key value like structure.
type Source interface {
	Apply(Store) error
}

// SourceFunc is a func variant of the [Source] interface.
type SourceFunc func(Store) error

// Apply implements the [Source] interface.
func (f SourceFunc) Apply(store Store) error {
	return f(store)
}

// Manager holds the merged result of one or more sources.
type Manager struct {
	store Map
}

// Read applies every source, in order, to a fresh store.
// Subsequent sources override previous sources.
func Read(srcs ...Source) (*Manager, error) {
	store := make(Map)
	for _, src := range srcs {
		if src == nil {
			continue
		}
		err := src.Apply(store)
		if err != nil {
			return nil, err
		}
	}
	return &Manager{store: store}, nil
}

// Values returns a copy of the merged key value tree.
func (m *Manager) Values() map[string]any {
	return copyTree(m.store)
}

// UnmarshalOption customizes [Manager.Unmarshal].
type UnmarshalOption func(*mapstructure.DecoderConfig)

// DecodeHook registers an additional decode hook. Hooks are tried in
// registration order, before the built-in ones.
func DecodeHook(h mapstructure.DecodeHookFunc) UnmarshalOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = composeDecodeHooks(h, dc.DecodeHook)
	}
}

// Unmarshal decodes the merged config into v using the `config` struct tag.
func (m *Manager) Unmarshal(v any, opts ...UnmarshalOption) error {
	dc := &mapstructure.DecoderConfig{
		TagName:          "config",
		Result:           v,
		WeaklyTypedInput: true,
		DecodeHook: composeDecodeHooks(
			textUnmarshalerHookFunc(),
			bytesHookFunc(),
			timeDurationHookFunc(),
		),
	}
	for _, opt := range opts {
		opt(dc)
	}

	dec, err := mapstructure.NewDecoder(dc)
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(m.store))
}

// ErrInvalidDecodeCondition may be returned by a decode hook to signal
// that it does not apply to the given types.
var ErrInvalidDecodeCondition = errors.New("invalid decode condition")

// TypeCoercionError occurs when attempting to unmarshal a config
// value to a struct field whose type does not match the config
// value type, up to, coercion.
type TypeCoercionError struct {
	From  reflect.Type
	To    reflect.Type
	Cause error
}

// Error implements the error interface.
func (e TypeCoercionError) Error() string {
	return fmt.Sprintf("failed to coerce value from %s to %s: %s", e.From, e.To, e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e TypeCoercionError) Unwrap() error {
	return e.Cause
}

func composeDecodeHooks(hs ...mapstructure.DecodeHookFunc) mapstructure.DecodeHookFuncValue {
	return func(f, t reflect.Value) (any, error) {
		for _, h := range hs {
			if h == nil {
				continue
			}
			v, err := mapstructure.DecodeHookExec(h, f, t)
			if err == nil {
				return v, nil
			}
			if errors.Is(err, ErrInvalidDecodeCondition) {
				continue
			}
			var tce TypeCoercionError
			if errors.As(err, &tce) {
				return nil, err
			}
			return nil, TypeCoercionError{
				From:  f.Type(),
				To:    t.Type(),
				Cause: err,
			}
		}
		return f.Interface(), nil
	}
}

func textUnmarshalerHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return nil, ErrInvalidDecodeCondition
		}
		result := reflect.New(t)
		u, ok := result.Interface().(encoding.TextUnmarshaler)
		if !ok {
			return nil, ErrInvalidDecodeCondition
		}
		err := u.UnmarshalText([]byte(data.(string)))
		if err != nil {
			return nil, err
		}
		return result.Elem().Interface(), nil
	}
}

var bytesType = reflect.TypeOf([]byte(nil))

// bytesHookFunc lets PEM text, or any other string, populate a []byte field.
func bytesHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != bytesType {
			return nil, ErrInvalidDecodeCondition
		}
		return []byte(data.(string)), nil
	}
}

func timeDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(time.Duration(0)) {
			return nil, ErrInvalidDecodeCondition
		}

		switch f.Kind() {
		case reflect.String:
			return time.ParseDuration(data.(string))
		case reflect.Int:
			return time.Duration(int64(data.(int))), nil
		default:
			return nil, ErrInvalidDecodeCondition
		}
	}
}

func splitKey(key string) []string {
	return strings.Split(key, ".")
}
