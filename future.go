// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package quickserve

import "context"

// Future is the eventual result of a start or stop operation.
type Future struct {
	done chan struct{}
	err  error
	port int
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(port int, err error) {
	f.port = port
	f.err = err
	close(f.done)
}

// Done returns a channel which is closed once the operation completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the error the operation completed with. It returns nil
// while the operation is still pending.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the operation completes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return f.err
	}
}

// Port returns the port bound by a successful start.
func (f *Future) Port() (int, bool) {
	select {
	case <-f.done:
	default:
		return 0, false
	}
	if f.err != nil || f.port == 0 {
		return 0, false
	}
	return f.port, true
}
