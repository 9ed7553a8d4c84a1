package executor

import (
	"context"
	"sync"
	"time"
)

// Event is an external cancellation signal with set/wait semantics.
// Internally the executor runs on context.Context; an Event supplied by a
// caller is bridged onto the run's context at the execute boundary.
type Event struct {
	once sync.Once
	ch   chan struct{}
}

// NewEvent builds an unset event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set fires the event. Subsequent calls are no-ops.
func (e *Event) Set() {
	e.once.Do(func() { close(e.ch) })
}

// IsSet reports whether the event has fired.
func (e *Event) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the event fires or the timeout elapses. Zero timeout
// waits forever. Reports whether the event fired.
func (e *Event) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-e.ch
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-e.ch:
		return true
	case <-t.C:
		return false
	}
}

// Done exposes the event as a channel for select loops.
func (e *Event) Done() <-chan struct{} { return e.ch }

// propagate cancels the run when the event fires. The returned stop
// function releases the watcher goroutine.
func (e *Event) propagate(cancel context.CancelFunc) (stop func()) {
	stopCh := make(chan struct{})
	go func() {
		select {
		case <-e.ch:
			cancel()
		case <-stopCh:
		}
	}()
	return func() { close(stopCh) }
}
