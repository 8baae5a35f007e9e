// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package quickserve

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/z5labs/quickserve/config"
	"github.com/z5labs/quickserve/ptr"

	"github.com/go-viper/mapstructure/v2"
)

const (
	minPort = 0
	maxPort = 65535

	defaultShutdownTimeout = 5 * time.Second
)

// PortSpec describes the port a server binds to and the port it is
// reachable on. The two differ when the server sits behind a port
// forward or proxy.
type PortSpec struct {
	Private int `config:"private"`
	Public  int `config:"public"`
}

// Port returns a PortSpec which binds to and advertises the same port.
func Port(n int) PortSpec {
	return PortSpec{Private: n, Public: n}
}

// String implements the [fmt.Stringer] interface.
func (p PortSpec) String() string {
	if p.Private == p.Public {
		return strconv.Itoa(p.Private)
	}
	return fmt.Sprintf("%d:%d", p.Private, p.Public)
}

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
// It accepts "8080" and "8080:80" (private:public).
func (p *PortSpec) UnmarshalText(b []byte) error {
	ps, err := parsePortString(string(b))
	if err != nil {
		return err
	}
	*p = ps
	return nil
}

func (p PortSpec) validate() error {
	for _, n := range []int{p.Private, p.Public} {
		if n < minPort || n > maxPort {
			return InvalidPortError{Value: strconv.Itoa(n)}
		}
	}
	return nil
}

// ParsePort converts v into a PortSpec. Integer types, integral
// floats, numeric strings ("8080" or "8080:80") and PortSpecs are
// accepted. Every resulting port must be within [0, 65535].
func ParsePort(v any) (PortSpec, error) {
	var ps PortSpec
	switch x := v.(type) {
	case PortSpec:
		ps = x
	case *PortSpec:
		if x == nil {
			return PortSpec{}, InvalidPortError{Value: "<nil>"}
		}
		ps = *x
	case string:
		return parsePortString(x)
	case int:
		ps = Port(x)
	case int8:
		ps = Port(int(x))
	case int16:
		ps = Port(int(x))
	case int32:
		ps = Port(int(x))
	case int64:
		if x < minPort || x > maxPort {
			return PortSpec{}, InvalidPortError{Value: strconv.FormatInt(x, 10)}
		}
		ps = Port(int(x))
	case uint:
		return parsePortUint(uint64(x))
	case uint8:
		ps = Port(int(x))
	case uint16:
		ps = Port(int(x))
	case uint32:
		return parsePortUint(uint64(x))
	case uint64:
		return parsePortUint(x)
	case float32:
		return parsePortFloat(float64(x))
	case float64:
		return parsePortFloat(x)
	default:
		return PortSpec{}, InvalidPortError{Value: fmt.Sprint(v)}
	}
	return ps, ps.validate()
}

func parsePortUint(n uint64) (PortSpec, error) {
	if n > maxPort {
		return PortSpec{}, InvalidPortError{Value: strconv.FormatUint(n, 10)}
	}
	return Port(int(n)), nil
}

func parsePortFloat(f float64) (PortSpec, error) {
	if f != math.Trunc(f) || f < minPort || f > maxPort {
		return PortSpec{}, InvalidPortError{Value: strconv.FormatFloat(f, 'g', -1, 64)}
	}
	return Port(int(f)), nil
}

func parsePortString(s string) (PortSpec, error) {
	private, public, split := strings.Cut(s, ":")
	priv, ok := parseDigits(private)
	if !ok {
		return PortSpec{}, InvalidPortError{Value: s}
	}
	if !split {
		return Port(priv), nil
	}
	pub, ok := parseDigits(public)
	if !ok {
		return PortSpec{}, InvalidPortError{Value: s}
	}
	return PortSpec{Private: priv, Public: pub}, nil
}

func parseDigits(s string) (int, bool) {
	if s == "" || len(s) > 5 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n > maxPort {
		return 0, false
	}
	return n, true
}

// Options are the caller supplied settings for a [Server]. Unset
// (nil) fields are filled in by the loaded plugins and then by the
// built-in defaults:
//
//	autostart:        true
//	hostname:         "localhost"
//	path:             "/"
//	port:             0 (ephemeral)
//	scheme:           "http"
//	shutdown_timeout: 5s
//
// Cert and Key hold PEM encoded material and are required, together,
// when the scheme is "https".
type Options struct {
	Autostart *bool     `config:"autostart"`
	Hostname  *string   `config:"hostname"`
	Path      *string   `config:"path"`
	Port      *PortSpec `config:"port"`
	Scheme    *string   `config:"scheme"`
	Cert      []byte    `config:"cert"`
	Key       []byte    `config:"key"`

	// ShutdownTimeout bounds how long a stop waits for in-flight
	// requests before closing their connections.
	ShutdownTimeout *time.Duration `config:"shutdown_timeout"`
}

func (o Options) clone() Options {
	return Options{
		Autostart: ptr.Clone(o.Autostart),
		Hostname:  ptr.Clone(o.Hostname),
		Path:      ptr.Clone(o.Path),
		Port:      ptr.Clone(o.Port),
		Scheme:    ptr.Clone(o.Scheme),
		Cert:      bytes.Clone(o.Cert),
		Key:       bytes.Clone(o.Key),

		ShutdownTimeout: ptr.Clone(o.ShutdownTimeout),
	}
}

// fillFrom copies every field of src which is unset on o. Empty
// strings count as unset.
func (o Options) fillFrom(src Options) Options {
	if o.Autostart == nil {
		o.Autostart = ptr.Clone(src.Autostart)
	}
	if ptr.Or(o.Hostname, "") == "" && src.Hostname != nil {
		o.Hostname = ptr.Clone(src.Hostname)
	}
	if ptr.Or(o.Path, "") == "" && src.Path != nil {
		o.Path = ptr.Clone(src.Path)
	}
	if o.Port == nil {
		o.Port = ptr.Clone(src.Port)
	}
	if ptr.Or(o.Scheme, "") == "" && src.Scheme != nil {
		o.Scheme = ptr.Clone(src.Scheme)
	}
	if o.ShutdownTimeout == nil {
		o.ShutdownTimeout = ptr.Clone(src.ShutdownTimeout)
	}
	if o.Cert == nil {
		o.Cert = bytes.Clone(src.Cert)
	}
	if o.Key == nil {
		o.Key = bytes.Clone(src.Key)
	}
	return o
}

// applyDefaults is the lowest precedence step of the pipeline. Empty
// strings are treated as unset here.
func applyDefaults(o Options) Options {
	if o.Autostart == nil {
		o.Autostart = ptr.Ref(true)
	}
	if ptr.Or(o.Hostname, "") == "" {
		o.Hostname = ptr.Ref("localhost")
	}
	if ptr.Or(o.Path, "") == "" {
		o.Path = ptr.Ref("/")
	}
	if o.Port == nil {
		o.Port = ptr.Ref(Port(0))
	}
	if ptr.Or(o.Scheme, "") == "" {
		o.Scheme = ptr.Ref("http")
	}
	if o.ShutdownTimeout == nil {
		o.ShutdownTimeout = ptr.Ref(defaultShutdownTimeout)
	}
	return o
}

// OptionsFrom reads Options from the given config sources. Later
// sources override earlier ones.
func OptionsFrom(srcs ...config.Source) (Options, error) {
	m, err := config.Read(srcs...)
	if err != nil {
		return Options{}, err
	}

	var opts Options
	err = m.Unmarshal(&opts, config.DecodeHook(portSpecHookFunc()))
	if err != nil {
		return Options{}, err
	}
	return opts, nil
}

var portSpecType = reflect.TypeOf(PortSpec{})

func portSpecHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != portSpecType {
			return nil, config.ErrInvalidDecodeCondition
		}
		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return ParsePort(data)
		default:
			return nil, config.ErrInvalidDecodeCondition
		}
	}
}

// Config is the resolved, immutable configuration of a [Server].
type Config struct {
	Autostart bool
	Hostname  string
	BasePath  string
	Port      PortSpec
	Scheme    string
	Cert      []byte
	Key       []byte

	ShutdownTimeout time.Duration
}

// resolveOptions folds the plugins, in registration order, and then the
// built-in defaults over a copy of the caller's options. A step only
// fills fields which are still unset so the earliest source wins.
func resolveOptions(caller Options, plugins []Plugin) (Config, error) {
	opts := caller.clone()
	for _, plugin := range plugins {
		if plugin == nil {
			continue
		}
		opts = opts.fillFrom(plugin(opts.clone()))
	}
	opts = applyDefaults(opts)

	cfg := Config{
		Autostart: *opts.Autostart,
		Hostname:  *opts.Hostname,
		BasePath:  *opts.Path,
		Port:      *opts.Port,
		Scheme:    *opts.Scheme,
		Cert:      opts.Cert,
		Key:       opts.Key,

		ShutdownTimeout: *opts.ShutdownTimeout,
	}
	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	if cfg.Scheme != "http" && cfg.Scheme != "https" {
		return ConfigurationError{
			Reason: fmt.Sprintf("server scheme must be 'http' or 'https', got %q", cfg.Scheme),
		}
	}

	if cfg.ShutdownTimeout < 0 {
		return ConfigurationError{
			Reason: fmt.Sprintf("shutdown timeout must not be negative, got %s", cfg.ShutdownTimeout),
		}
	}

	hasCert, hasKey := len(cfg.Cert) > 0, len(cfg.Key) > 0
	if cfg.Scheme == "https" && !(hasCert && hasKey) {
		return ConfigurationError{
			Reason: "server scheme 'https' requires both a certificate and a key",
		}
	}
	if hasCert != hasKey {
		return ConfigurationError{
			Reason: "certificate and key must be provided together",
		}
	}

	err := cfg.Port.validate()
	if err != nil {
		return ConfigurationError{
			Reason: "invalid port",
			Cause:  err,
		}
	}
	return nil
}
