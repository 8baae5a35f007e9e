// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config reads quickserve server options from layered sources.
//
// A Source writes dotted keys into a Store. Sources passed to [Read] are
// applied in order so later sources override earlier ones:
//
//	m, err := config.Read(
//	    config.FromYaml(f),
//	    config.FromEnv("QUICKSERVE_"),
//	)
//	if err != nil {
//	    return err
//	}
//
//	var opts quickserve.Options
//	err = m.Unmarshal(&opts)
//
// Values are decoded into structs using the `config` struct tag.
package config
