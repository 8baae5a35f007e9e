// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"os"
	"strings"
)

// Env represents a Source where its underlying values
// are extracted from environment variables.
type Env struct {
	prefix  string
	environ func() []string
}

// FromEnv returns a Source which applies every environment variable
// starting with prefix. The prefix is stripped, the remainder is lower
// cased and a double underscore nests keys, so with the prefix
// "QUICKSERVE_" the variable QUICKSERVE_PORT__PUBLIC sets "port.public".
func FromEnv(prefix string) Env {
	return Env{
		prefix:  prefix,
		environ: os.Environ,
	}
}

// Apply implements the Source interface.
func (src Env) Apply(store Store) error {
	for _, pair := range src.environ() {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name, ok := strings.CutPrefix(k, src.prefix)
		if !ok || name == "" {
			continue
		}
		key := strings.ToLower(strings.ReplaceAll(name, "__", "."))
		err := store.Set(key, v)
		if err != nil {
			return err
		}
	}
	return nil
}
