// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package quickserve

import (
	"net/http"
	"slices"
	"sync"

	"github.com/z5labs/quickserve/internal/slogfield"
	"github.com/z5labs/quickserve/internal/try"
)

type observers struct {
	mu       sync.RWMutex
	ready    []func(int)
	stopped  []func()
	errs     []func(error)
	requests []func(http.ResponseWriter, *http.Request)
}

// OnReady registers f to be called with the bound port every time the
// server starts listening.
//
// Observers run after the [Future] of the operation resolves and before
// its callbacks, so they may issue and wait on further operations.
func (s *Server) OnReady(f func(port int)) *Server {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	s.events.ready = append(s.events.ready, f)
	return s
}

// OnStopped registers f to be called every time the server stops listening.
func (s *Server) OnStopped(f func()) *Server {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	s.events.stopped = append(s.events.stopped, f)
	return s
}

// OnError registers f to be called with every failed operation and
// every transport failure after the socket was bound.
func (s *Server) OnError(f func(error)) *Server {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	s.events.errs = append(s.events.errs, f)
	return s
}

// OnRequest registers f to be called with every request received by a
// server constructed without a handler. Requests are not dispatched to
// f when a handler was given.
func (s *Server) OnRequest(f func(http.ResponseWriter, *http.Request)) *Server {
	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	s.events.requests = append(s.events.requests, f)
	return s
}

func (s *Server) emitReady(port int) {
	s.events.mu.RLock()
	fs := slices.Clone(s.events.ready)
	s.events.mu.RUnlock()

	for _, f := range fs {
		s.notify("ready", func() { f(port) })
	}
}

func (s *Server) emitStopped() {
	s.events.mu.RLock()
	fs := slices.Clone(s.events.stopped)
	s.events.mu.RUnlock()

	for _, f := range fs {
		s.notify("stopped", f)
	}
}

func (s *Server) emitError(err error) {
	s.events.mu.RLock()
	fs := slices.Clone(s.events.errs)
	s.events.mu.RUnlock()

	if len(fs) == 0 {
		s.log.Error("unobserved server error", slogfield.Error(err))
		return
	}
	for _, f := range fs {
		s.notify("error", func() { f(err) })
	}
}

func (s *Server) dispatchRequest(w http.ResponseWriter, r *http.Request) {
	s.events.mu.RLock()
	fs := slices.Clone(s.events.requests)
	s.events.mu.RUnlock()

	for _, f := range fs {
		s.notify("request", func() { f(w, r) })
	}
}

func (s *Server) notify(event string, f func()) {
	err := try.Call(f)
	if err == nil {
		return
	}
	s.log.Error(
		"observer panicked",
		slogfield.String("event", event),
		slogfield.Error(err),
	)
}
