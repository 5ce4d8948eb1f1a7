// Copyright 2025 The Petrel Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package serializer

import "sync/atomic"

// CompletionSignal is a one-shot synchronization primitive satisfied exactly
// once by an asynchronous I/O operation. It starts unsignaled; Signal
// transitions it to signaled and wakes every waiter; any later waiter
// observes already-signaled immediately. Signaling twice is a contract
// violation and panics.
//
// A signal may chain an inner callback: Signal first invokes the callback,
// then unblocks local waiters. This lets a single physical I/O completion
// both satisfy a caller-supplied callback and release a batch coordinator's
// barrier wait, with the callback guaranteed to have run by the time the
// waiter resumes.
type CompletionSignal struct {
	inner func()
	fired atomic.Bool
	done  chan struct{}
}

// NewCompletionSignal returns an unsignaled CompletionSignal.
func NewCompletionSignal() *CompletionSignal {
	return &CompletionSignal{done: make(chan struct{})}
}

// NewChainedCompletionSignal returns an unsignaled CompletionSignal that
// invokes inner from Signal before waking waiters. inner may be nil.
func NewChainedCompletionSignal(inner func()) *CompletionSignal {
	return &CompletionSignal{inner: inner, done: make(chan struct{})}
}

// Signal marks the operation complete. It must be called exactly once.
func (s *CompletionSignal) Signal() {
	if s.fired.Swap(true) {
		panic("petrel: completion signal fired twice")
	}
	if s.inner != nil {
		s.inner()
	}
	close(s.done)
}

// Done returns a channel that is closed once the signal has fired.
func (s *CompletionSignal) Done() <-chan struct{} { return s.done }

// Wait blocks until the signal has fired. A wait on an already-fired signal
// returns immediately.
func (s *CompletionSignal) Wait() { <-s.done }

// Fired reports whether the signal has fired. Racy with respect to a
// concurrent Signal; intended for assertions and tests.
func (s *CompletionSignal) Fired() bool { return s.fired.Load() }
