package testutil

import (
	"strings"

	"github.com/hupe1980/convoflow/core"
)

// Drain reads every event until the channel closes.
func Drain(ch <-chan core.StreamEvent) []core.StreamEvent {
	var events []core.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

// Transcript concatenates message contents in emission order.
func Transcript(events []core.StreamEvent) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == core.EventMessage {
			sb.WriteString(ev.Content)
		}
	}
	return sb.String()
}

// OfType filters events by type preserving order.
func OfType(events []core.StreamEvent, t core.EventType) []core.StreamEvent {
	var out []core.StreamEvent
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
