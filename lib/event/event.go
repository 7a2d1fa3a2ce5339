// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

// Package event provides typed observer lists. Each event category in
// Lockstep (inbound packet, connection closed, session status, ...)
// gets its own Emitter parameterized by the event's payload type.
//
// Listeners run synchronously in registration order on the goroutine
// that calls Emit. A listener may remove itself or others while
// running; removal takes effect for the next Emit.
package event

import (
	"sync"
	"sync/atomic"
)

// Handle identifies a registered listener for later removal. Handles
// are unique across every Emitter in the process, so a component that
// owns several emitters can accept any of their handles in one Off.
type Handle uint64

var nextHandle atomic.Uint64

// Emitter is a list of listeners for events of type T. The zero value
// is ready to use.
type Emitter[T any] struct {
	mu        sync.Mutex
	listeners []listener[T]
}

type listener[T any] struct {
	handle Handle
	once   bool
	fn     func(T)
}

// On registers fn and returns its handle.
func (e *Emitter[T]) On(fn func(T)) Handle {
	return e.add(fn, false)
}

// Once registers fn to run for the next event only.
func (e *Emitter[T]) Once(fn func(T)) Handle {
	return e.add(fn, true)
}

// Off removes the listener registered under handle. It reports whether
// the listener was still registered.
func (e *Emitter[T]) Off(handle Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l.handle == handle {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Emit delivers value to every listener registered when Emit was
// called.
func (e *Emitter[T]) Emit(value T) {
	e.mu.Lock()
	snapshot := make([]listener[T], len(e.listeners))
	copy(snapshot, e.listeners)
	if len(snapshot) > 0 {
		kept := e.listeners[:0:0]
		for _, l := range e.listeners {
			if !l.once {
				kept = append(kept, l)
			}
		}
		e.listeners = kept
	}
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(value)
	}
}

// Len returns the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Clear removes every listener.
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	e.listeners = nil
	e.mu.Unlock()
}

func (e *Emitter[T]) add(fn func(T), once bool) Handle {
	handle := Handle(nextHandle.Add(1))
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, listener[T]{handle: handle, once: once, fn: fn})
	return handle
}
