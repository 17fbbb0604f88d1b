// Copyright (c) Microsoft Corporation. All rights reserved.

package concurrency

import "sync/atomic"

// AutoResetEvent is a reusable, single-slot wake-up gate. Set() wakes exactly one pending
// or future Wait(), then the event goes back to not-set. SetAndFreeze() makes it permanently
// set, which is how it is used to model a condition that, once true, never becomes false again.
type AutoResetEvent struct {
	channel chan struct{}
	frozen  atomic.Bool
}

func NewAutoResetEvent(initialState bool) *AutoResetEvent {
	retval := &AutoResetEvent{
		channel: make(chan struct{}, 1),
	}
	if initialState {
		retval.Set()
	}
	return retval
}

// Wait returns a channel that will have a value available when the event is set.
// Reading from the channel consumes the "set" state, unless the event is frozen.
func (e *AutoResetEvent) Wait() <-chan struct{} {
	return e.channel
}

// Frozen returns true if SetAndFreeze() has been called on this event.
func (e *AutoResetEvent) Frozen() bool {
	return e.frozen.Load()
}

func (e *AutoResetEvent) Set() {
	// Non-blocking for caller
	select {
	case e.channel <- struct{}{}:
		// Note: the above will panic if channel is closed; the presence of default clause does not prevent this.
	default:
	}
}

func (e *AutoResetEvent) Clear() {
	// Non-blocking for caller
	select {
	case _, isOpen := <-e.channel:
		if !isOpen {
			panic("Clear() called on frozen event")
		}
	default:
	}
}

// SetAndFreeze permanently sets the event. Safe to call more than once. After this call,
// Set() and Clear() panic, and Wait() always reports the event as set.
func (e *AutoResetEvent) SetAndFreeze() {
	if e.frozen.CompareAndSwap(false, true) {
		close(e.channel)
	}
}
