package testutil

import (
	"github.com/hupe1980/convoflow/core"
)

// ThreadBuilder helps construct threads with fluent chaining for tests.
// Example:
//
//	th := NewThreadBuilder("t1").Message(m1).Interrupt(in).Build()
type ThreadBuilder struct {
	id         string
	messages   []core.Message
	interrupt  *core.PendingInterrupt
	checkpoint core.Checkpoint
}

// NewThreadBuilder creates a new builder for a thread with the given id.
func NewThreadBuilder(id string) *ThreadBuilder {
	return &ThreadBuilder{id: id}
}

// Message appends a single message to the thread history (chainable).
func (b *ThreadBuilder) Message(m core.Message) *ThreadBuilder {
	b.messages = append(b.messages, m)
	return b
}

// Messages appends multiple messages to the thread history (chainable).
func (b *ThreadBuilder) Messages(ms ...core.Message) *ThreadBuilder {
	b.messages = append(b.messages, ms...)
	return b
}

// Interrupt sets the pending interrupt (chainable).
func (b *ThreadBuilder) Interrupt(in *core.PendingInterrupt) *ThreadBuilder {
	b.interrupt = in
	return b
}

// Checkpoint sets the checkpoint (chainable).
func (b *ThreadBuilder) Checkpoint(cp core.Checkpoint) *ThreadBuilder {
	b.checkpoint = cp
	return b
}

// Build returns a *core.Thread with pre-populated history.
func (b *ThreadBuilder) Build() *core.Thread {
	th := core.NewThread(b.id)
	th.Messages = append(th.Messages, b.messages...)
	th.Interrupt = b.interrupt
	th.Checkpoint = b.checkpoint
	return th
}
