// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"
	"strings"
)

// Map is an ordinary map[string]any but implements both the
// Source and Store interfaces.
type Map map[string]any

// Apply implements the Source interface. It recursively walks the underlying
// map to find key value pairs to set on the given store.
func (m Map) Apply(store Store) error {
	return walkMap(m, store, "")
}

func walkMap(m map[string]any, store Store, prefix string) error {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		switch x := v.(type) {
		case map[string]any:
			err := walkMap(x, store, key)
			if err != nil {
				return err
			}
		case Map:
			err := walkMap(x, store, key)
			if err != nil {
				return err
			}
		default:
			err := store.Set(key, x)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// EmptyKeyError occurs when a source sets a value without a key.
type EmptyKeyError struct {
	Value any
}

// Error implements the error interface.
func (e EmptyKeyError) Error() string {
	return fmt.Sprintf("attempted to set value to an empty key: %v", e.Value)
}

// Set implements the Store interface. A dotted key replaces any
// scalar already set along its path, so a later source may refine
// "port" into "port.public".
func (m Map) Set(key string, value any) error {
	if strings.TrimSpace(key) == "" {
		return EmptyKeyError{Value: value}
	}

	parts := splitKey(key)
	cur := map[string]any(m)
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

func copyTree(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = copyTree(sub)
			continue
		}
		out[k] = v
	}
	return out
}
