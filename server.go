// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package quickserve

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/z5labs/quickserve/internal/noop"
	"github.com/z5labs/quickserve/internal/slogfield"
	"github.com/z5labs/quickserve/ptr"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const tracerName = "github.com/z5labs/quickserve"

type serverOptions struct {
	registry        *Registry
	logHandler      slog.Handler
	tracerProvider  trace.TracerProvider
	isTestEnv       func() bool
	shutdownTimeout *time.Duration
	h2c             bool
	subscribers     []func(*Server)
}

// ServerOption customizes a [Server] at construction.
type ServerOption func(*serverOptions)

// WithRegistry resolves options with the plugins of r instead of
// the ones loaded into [DefaultRegistry].
func WithRegistry(r *Registry) ServerOption {
	return func(so *serverOptions) {
		so.registry = r
	}
}

// LogHandler sets the handler used for the server's logs.
// Logs are discarded by default.
func LogHandler(h slog.Handler) ServerOption {
	return func(so *serverOptions) {
		so.logHandler = h
	}
}

// TracerProvider sets the provider for lifecycle and request spans.
// The global provider is used by default.
func TracerProvider(tp trace.TracerProvider) ServerOption {
	return func(so *serverOptions) {
		so.tracerProvider = tp
	}
}

// TestEnvironment overrides how the server detects that it is running
// under test. Autostart is skipped when f returns true.
func TestEnvironment(f func() bool) ServerOption {
	return func(so *serverOptions) {
		so.isTestEnv = f
	}
}

// ShutdownTimeout bounds how long a stop waits for in-flight requests
// before closing their connections. It takes precedence over
// [Options.ShutdownTimeout].
func ShutdownTimeout(d time.Duration) ServerOption {
	return func(so *serverOptions) {
		so.shutdownTimeout = &d
	}
}

// HTTP2Cleartext serves HTTP/2 without TLS (h2c) in addition to HTTP/1.
// It has no effect on https servers, which negotiate HTTP/2 through ALPN.
func HTTP2Cleartext() ServerOption {
	return func(so *serverOptions) {
		so.h2c = true
	}
}

// Subscribe calls f with the server after it is constructed and before
// it autostarts, so observers registered by f see the first ready event.
func Subscribe(f func(*Server)) ServerOption {
	return func(so *serverOptions) {
		so.subscribers = append(so.subscribers, f)
	}
}

// Server is an embeddable HTTP(S) server whose socket can be bound
// and unbound any number of times.
type Server struct {
	cfg             Config
	ln              *Listener
	log             *slog.Logger
	tracer          trace.Tracer
	shutdownTimeout time.Duration

	events observers

	opMu     sync.Mutex
	tail     chan struct{}
	notified chan struct{}

	mu     sync.Mutex
	public int
}

// NewWithHandler is [New] with empty [Options].
func NewWithHandler(handler http.Handler, opts ...ServerOption) (*Server, error) {
	return New(Options{}, handler, opts...)
}

// New resolves options through the loaded plugins and the built-in
// defaults and returns a server ready to be started. If handler is nil,
// every request is dispatched to the [Server.OnRequest] observers.
//
// Unless autostart is disabled or the process is running under test,
// a start is issued before New returns. Its failure is only reported
// to [Server.OnError] observers.
func New(options Options, handler http.Handler, opts ...ServerOption) (*Server, error) {
	so := &serverOptions{
		registry:       DefaultRegistry,
		logHandler:     noop.LogHandler{},
		tracerProvider: otel.GetTracerProvider(),
		isTestEnv:      isTestEnvironment,
	}
	for _, opt := range opts {
		opt(so)
	}

	var plugins []Plugin
	if so.registry != nil {
		plugins = so.registry.Plugins()
	}
	cfg, err := resolveOptions(options, plugins)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:             cfg,
		log:             slog.New(so.logHandler),
		tracer:          so.tracerProvider.Tracer(tracerName),
		shutdownTimeout: ptr.Or(so.shutdownTimeout, cfg.ShutdownTimeout),
	}

	h := handler
	if h == nil {
		h = http.HandlerFunc(s.dispatchRequest)
	}
	h = otelhttp.NewHandler(
		h,
		"quickserve",
		otelhttp.WithTracerProvider(so.tracerProvider),
	)
	if so.h2c && cfg.Scheme == "http" {
		h = h2c.NewHandler(h, &http2.Server{})
	}

	s.ln, err = newListener(cfg, h, s.log, s.emitError)
	if err != nil {
		return nil, err
	}

	for _, sub := range so.subscribers {
		sub(s)
	}

	if cfg.Autostart && !so.isTestEnv() {
		s.Start()
	}
	return s, nil
}

func isTestEnvironment() bool {
	return os.Getenv("QUICKSERVE_ENV") == "test" || testing.Testing()
}

// Config returns the resolved configuration.
func (s *Server) Config() Config {
	cfg := s.cfg
	cfg.Cert = append([]byte(nil), s.cfg.Cert...)
	cfg.Key = append([]byte(nil), s.cfg.Key...)
	return cfg
}

// Listener returns the socket handle of the server.
func (s *Server) Listener() *Listener {
	return s.ln
}

// Port returns the port the server is bound to.
func (s *Server) Port() (int, bool) {
	return s.ln.BoundPort()
}

// Start binds the configured port. The returned [Future] and the given
// callbacks receive the outcome once every previously issued operation
// has completed.
func (s *Server) Start(cbs ...func(error)) *Future {
	return s.enqueue("start", func() (int, error) {
		return s.start(s.cfg.Port)
	}, cbs)
}

// StartOn is [Server.Start] on the given port instead of the configured
// one. port may be any integer type, a string such as "8080" or
// "8080:80", or a [PortSpec].
func (s *Server) StartOn(port any, cbs ...func(error)) *Future {
	return s.enqueue("start", func() (int, error) {
		ps, err := ParsePort(port)
		if err != nil {
			return 0, LifecycleError{Op: "start", Reason: err.Error(), Cause: err}
		}
		return s.start(ps)
	}, cbs)
}

// Stop unbinds the socket, waiting up to the shutdown timeout for
// in-flight requests.
func (s *Server) Stop(cbs ...func(error)) *Future {
	return s.enqueue("stop", func() (int, error) {
		return 0, s.stop()
	}, cbs)
}

// Wait blocks until every operation issued so far has completed.
func (s *Server) Wait(ctx context.Context) error {
	s.opMu.Lock()
	tail := s.tail
	s.opMu.Unlock()
	if tail == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tail:
		return nil
	}
}

// enqueue runs op once the previous operation has resolved. Observers
// are notified after the future resolves, so they may issue and wait on
// further operations, but never before the observers of the previous
// operation.
func (s *Server) enqueue(op string, run func() (int, error), cbs []func(error)) *Future {
	f := newFuture()
	notified := make(chan struct{})

	s.opMu.Lock()
	prev, prevNotified := s.tail, s.notified
	s.tail, s.notified = f.done, notified
	s.opMu.Unlock()

	go func() {
		if prev != nil {
			<-prev
		}
		port, err := s.run(op, run)
		f.resolve(port, err)

		if prevNotified != nil {
			<-prevNotified
		}
		s.announce(op, port, err)
		close(notified)

		for _, cb := range cbs {
			s.notify(op+" callback", func() { cb(err) })
		}
	}()
	return f
}

func (s *Server) announce(op string, port int, err error) {
	switch {
	case err != nil:
		s.emitError(err)
	case op == "start":
		s.emitReady(port)
	case op == "stop":
		s.emitStopped()
	}
}

func (s *Server) run(op string, f func() (int, error)) (int, error) {
	_, span := s.tracer.Start(
		context.Background(),
		"quickserve."+op,
		trace.WithAttributes(attribute.String("quickserve.scheme", s.cfg.Scheme)),
	)
	defer span.End()

	port, err := f()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("server operation failed", slogfield.Op(op), slogfield.Error(err))
		return 0, err
	}
	if port != 0 {
		span.SetAttributes(attribute.Int("quickserve.port", port))
	}
	return port, nil
}

func (s *Server) start(ps PortSpec) (int, error) {
	if s.ln.IsListening() {
		return 0, ErrAlreadyListening
	}

	bound, err := s.ln.start(ps.Private)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.public = ps.Public
	s.mu.Unlock()

	s.log.Info(
		"server listening",
		slogfield.Scheme(s.cfg.Scheme),
		slogfield.Port(bound),
	)
	return bound, nil
}

func (s *Server) stop() error {
	if !s.ln.IsListening() {
		return ErrNotListening
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	start := time.Now()
	err := s.ln.stop(ctx)
	if err != nil {
		return err
	}

	s.log.Info("server stopped", slogfield.Duration("shutdown_duration", time.Since(start)))
	return nil
}

// publicPort is the port advertised in URLs.
func (s *Server) publicPort(bound int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.public != 0 {
		return s.public
	}
	return bound
}
