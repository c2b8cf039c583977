// Package stream turns executor progress into the caller-facing event
// protocol: an ordered, single-producer channel of core.StreamEvent with a
// terminal guard, plus an NDJSON writer that flushes one record per line.
package stream

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/hupe1980/convoflow/core"
)

// ErrTerminated is returned when emitting after a terminal event.
var ErrTerminated = errors.New("stream already terminated")

// ErrClosed is returned when emitting after Close.
var ErrClosed = errors.New("stream closed")

// Emitter delivers events to a single consumer over an unbuffered channel so
// a slow consumer applies backpressure to the producer. It captures the
// transcript: the concatenation of every delivered message event.
//
// Contract:
//   - events are delivered in Emit order
//   - nothing is delivered after an interrupt or error event
//   - Close is idempotent and closes the channel exactly once
type Emitter struct {
	ch chan core.StreamEvent

	mu         sync.Mutex
	closed     bool
	terminated bool
	transcript strings.Builder
	observe    func(core.StreamEvent)
}

// NewEmitter creates an emitter. observe, if non-nil, is called for every
// delivered event.
func NewEmitter(observe func(core.StreamEvent)) *Emitter {
	return &Emitter{ch: make(chan core.StreamEvent), observe: observe}
}

// Events returns the consumer side.
func (e *Emitter) Events() <-chan core.StreamEvent { return e.ch }

// Emit blocks until the consumer receives ev or ctx ends.
func (e *Emitter) Emit(ctx context.Context, ev core.StreamEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.terminated {
		return ErrTerminated
	}

	select {
	case e.ch <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}

	if ev.Type == core.EventMessage {
		e.transcript.WriteString(ev.Content)
	}
	if ev.Terminal() {
		e.terminated = true
	}
	if e.observe != nil {
		e.observe(ev)
	}
	return nil
}

// Transcript returns the concatenated message contents delivered so far.
func (e *Emitter) Transcript() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcript.String()
}

// Terminated reports whether a terminal event was delivered.
func (e *Emitter) Terminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}

// Close ends the stream.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
