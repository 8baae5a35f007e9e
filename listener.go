// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package quickserve

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/z5labs/quickserve/internal/slogfield"
	"github.com/z5labs/quickserve/internal/try"
)

// Listener owns the socket of a [Server]. A fresh [http.Server] is
// built every time the listener is started since an [http.Server]
// can not be reused once it has been shut down.
type Listener struct {
	scheme    string
	handler   http.Handler
	tlsConfig *tls.Config
	listen    func(network, addr string) (net.Listener, error)
	onError   func(error)
	log       *slog.Logger

	mu       sync.Mutex
	hooks    []func(*http.Server)
	srv      *http.Server
	port     int
	served   chan struct{}
	stopping bool
}

func newListener(cfg Config, h http.Handler, log *slog.Logger, onError func(error)) (*Listener, error) {
	l := &Listener{
		scheme:  cfg.Scheme,
		handler: h,
		listen:  net.Listen,
		onError: onError,
		log:     log,
	}
	if cfg.Scheme != "https" {
		return l, nil
	}

	cert, err := tls.X509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, ConfigurationError{
			Reason: "failed to load certificate and key",
			Cause:  err,
		}
	}
	l.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return l, nil
}

// OnServe registers a hook which is given every [http.Server] before
// it begins serving. Hooks may set fields such as TLSNextProto or
// register shutdown funcs but must not start or stop the server.
// A panicking hook fails the start with a [TransportError].
func (l *Listener) OnServe(f func(*http.Server)) *Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, f)
	return l
}

// IsListening reports whether the socket is currently bound.
func (l *Listener) IsListening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.srv != nil
}

// BoundPort returns the port the socket is bound to.
func (l *Listener) BoundPort() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port, l.srv != nil
}

// HTTPServer returns the live [http.Server] or nil when idle.
//
// The server must only be started and stopped through its [Server].
// Closing or shutting it down directly leaves the listener idle without
// a stopped event and is reported to the error observers as a
// [TransportError] wrapping [http.ErrServerClosed].
func (l *Listener) HTTPServer() *http.Server {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.srv
}

func (l *Listener) start(port int) (int, error) {
	l.mu.Lock()
	if l.srv != nil {
		l.mu.Unlock()
		return 0, ErrAlreadyListening
	}
	hooks := append([]func(*http.Server){}, l.hooks...)
	l.mu.Unlock()

	srv := &http.Server{
		Handler:           l.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(l.log.Handler(), slog.LevelError),
	}
	if l.tlsConfig != nil {
		srv.TLSConfig = l.tlsConfig.Clone()
	}
	for _, hook := range hooks {
		err := try.Call(func() { hook(srv) })
		if err != nil {
			l.log.Error("serve hook panicked", slogfield.Error(err))
			return 0, TransportError{Op: "configure", Cause: err}
		}
	}

	ls, err := l.listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		l.log.Error("failed to listen for connections", slogfield.Port(port), slogfield.Error(err))
		return 0, TransportError{Op: "bind", Cause: err}
	}
	bound, err := portOf(ls.Addr())
	if err != nil {
		ls.Close()
		return 0, TransportError{Op: "bind", Cause: err}
	}

	served := make(chan struct{})

	l.mu.Lock()
	l.srv = srv
	l.port = bound
	l.served = served
	l.stopping = false
	l.mu.Unlock()

	go l.serve(srv, ls, served)
	return bound, nil
}

func (l *Listener) serve(srv *http.Server, ls net.Listener, served chan struct{}) {
	defer close(served)

	var err error
	if srv.TLSConfig != nil {
		err = srv.ServeTLS(ls, "", "")
	} else {
		err = srv.Serve(ls)
	}

	l.mu.Lock()
	external := l.srv == srv && !l.stopping
	if l.srv == srv {
		l.srv = nil
		l.port = 0
	}
	l.mu.Unlock()

	if err == nil || (errors.Is(err, http.ErrServerClosed) && !external) {
		return
	}
	l.log.Error("listener stopped unexpectedly", slogfield.Error(err))
	if l.onError != nil {
		l.onError(TransportError{Op: "serve", Cause: err})
	}
}

func (l *Listener) stop(ctx context.Context) error {
	l.mu.Lock()
	srv, served := l.srv, l.served
	if srv != nil {
		l.stopping = true
	}
	l.mu.Unlock()
	if srv == nil {
		return ErrNotListening
	}

	err := srv.Shutdown(ctx)
	if err != nil && ctx.Err() != nil {
		l.log.Warn("graceful shutdown timed out, closing connections", slogfield.Error(err))
		err = srv.Close()
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		l.mu.Lock()
		l.stopping = false
		l.mu.Unlock()
		return TransportError{Op: "close", Cause: err}
	}

	<-served
	return nil
}

func portOf(addr net.Addr) (int, error) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port, nil
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}
