// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package quickserve provides an embeddable HTTP(S) server for tests and
// local tooling.
//
// A [Server] can be bound and unbound any number of times. Every start
// and stop is queued behind the previously issued operation and reports
// its outcome three ways: through the returned [Future], through the
// error-first callbacks given to the call and through the observers
// registered with [Server.OnReady], [Server.OnStopped] and [Server.OnError].
//
// # Options
//
// [Options] left unset by the caller are filled in by the plugins loaded
// into a [Registry] and then by the built-in defaults. The first source
// to set a field wins.
//
//	quickserve.DefaultRegistry.Load(func(o quickserve.Options) quickserve.Options {
//	    o.Hostname = ptr.Ref("127.0.0.1")
//	    return o
//	})
//
// # Basic Usage
//
//	s, err := quickserve.New(quickserve.Options{}, handler)
//	if err != nil {
//	    return err
//	}
//	err = s.Start().Wait(ctx)
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
//	u, err := s.URL("/health")
//
// Servers created without a handler dispatch every request to the
// [Server.OnRequest] observers.
package quickserve
