package core

import "time"

// Thread is one long-lived conversation. It owns the ordered message
// history, at most one pending interrupt and the latest checkpoint.
//
// Contract:
//   - Messages are append-only; order is total and meaningful
//   - Interrupt is non-nil only while suspended in review
//   - Clone performs a copy of the slices so snapshots can diverge safely
type Thread struct {
	ID         string            `json:"id"`
	Messages   []Message         `json:"messages"`
	Interrupt  *PendingInterrupt `json:"interrupt,omitempty"`
	Checkpoint Checkpoint        `json:"checkpoint"`
	Created    time.Time         `json:"created"`
	Updated    time.Time         `json:"updated"`
}

// NewThread creates an empty thread with the given id.
func NewThread(id string) *Thread {
	now := time.Now().UTC()
	return &Thread{ID: id, Messages: []Message{}, Created: now, Updated: now}
}

// Clone returns a copy safe for independent mutation. Message contents are
// shared because messages are immutable once appended.
func (t *Thread) Clone() *Thread {
	clone := *t
	clone.Messages = make([]Message, len(t.Messages))
	copy(clone.Messages, t.Messages)
	if t.Interrupt != nil {
		in := *t.Interrupt
		clone.Interrupt = &in
	}
	return &clone
}

// History returns the message contents in append order for model input.
func (t *Thread) History() []Content {
	out := make([]Content, 0, len(t.Messages))
	for _, m := range t.Messages {
		out = append(out, m.Content)
	}
	return out
}

// LastMessage returns the most recent message with the given role.
func (t *Thread) LastMessage(role Role) (Message, bool) {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role() == role {
			return t.Messages[i], true
		}
	}
	return Message{}, false
}

// Suspended reports whether the thread awaits a resume.
func (t *Thread) Suspended() bool { return t.Interrupt != nil }
