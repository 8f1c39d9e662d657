package source

import (
	"sync"
	"time"
)

// ManualResetEvent is a manual-reset synchronization event: once signalled
// it stays signalled until explicitly reset, the way CVSandbox's
// XManualResetEvent behaves (original_source/.../XManualResetEvent.hpp).
// The core uses a pair of these — new-frame-available and consumer-idle —
// to hand frames from a video source's producer thread to the pipeline's
// consumer thread (§4.5).
type ManualResetEvent struct {
	mu   sync.Mutex
	ch   chan struct{}
}

// NewManualResetEvent returns an event in the non-signalled state.
func NewManualResetEvent() *ManualResetEvent {
	return &ManualResetEvent{ch: make(chan struct{})}
}

// Signal puts the event into the signalled state. Idempotent.
func (e *ManualResetEvent) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
	default:
		close(e.ch)
	}
}

// Reset puts the event into the non-signalled state. Idempotent.
func (e *ManualResetEvent) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
		e.ch = make(chan struct{})
	default:
	}
}

// Wait blocks until the event is signalled.
func (e *ManualResetEvent) Wait() {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	<-ch
}

// WaitTimeout blocks until the event is signalled or d elapses, reporting
// which happened.
func (e *ManualResetEvent) WaitTimeout(d time.Duration) bool {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}

// IsSignaled reports the event's current state without blocking.
func (e *ManualResetEvent) IsSignaled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}
