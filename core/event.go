package core

import (
	"encoding/json"
	"fmt"
)

// EventType tags the StreamEvent variant.
type EventType string

const (
	// EventMessage carries assistant-visible text (a token or a tool message).
	EventMessage EventType = "message"
	// EventBestAnswer carries retrieval provenance for the top hit.
	EventBestAnswer EventType = "bestAnswer"
	// EventInterrupt announces a suspension awaiting human review.
	EventInterrupt EventType = "interrupt"
	// EventError announces an unrecoverable fault; it ends the stream.
	EventError EventType = "error"
)

// BestAnswer is the provenance of the top retrieval hit.
type BestAnswer struct {
	ID      string `json:"idBestAnswer"`
	Intent  string `json:"intentMetadata"`
	Content string `json:"contentBestAnswer"`
}

// StreamEvent is the tagged variant delivered to callers. Only the fields of
// the active variant are serialized.
type StreamEvent struct {
	Type       EventType
	Content    string            // EventMessage
	BestAnswer BestAnswer        // EventBestAnswer
	Interrupt  *InterruptPayload // EventInterrupt
	Detail     string            // EventError
}

// NewMessageEvent creates a message event.
func NewMessageEvent(content string) StreamEvent {
	return StreamEvent{Type: EventMessage, Content: content}
}

// NewBestAnswerEvent creates a bestAnswer side-channel event.
func NewBestAnswerEvent(ba BestAnswer) StreamEvent {
	return StreamEvent{Type: EventBestAnswer, BestAnswer: ba}
}

// NewInterruptEvent creates an interrupt event carrying the review payload.
func NewInterruptEvent(payload InterruptPayload) StreamEvent {
	return StreamEvent{Type: EventInterrupt, Interrupt: &payload}
}

// NewErrorEvent creates an error event.
func NewErrorEvent(detail string) StreamEvent {
	return StreamEvent{Type: EventError, Detail: detail}
}

// Terminal reports whether no further event may follow this one.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventInterrupt || e.Type == EventError
}

// MarshalJSON writes the flat wire shape of the active variant.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventMessage:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventBestAnswer:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			BestAnswer
		}{e.Type, e.BestAnswer})
	case EventInterrupt:
		var payload InterruptPayload
		if e.Interrupt != nil {
			payload = *e.Interrupt
		}
		return json.Marshal(struct {
			Type    EventType        `json:"type"`
			Payload InterruptPayload `json:"payload"`
		}{e.Type, payload})
	case EventError:
		return json.Marshal(struct {
			Type   EventType `json:"type"`
			Detail string    `json:"detail"`
		}{e.Type, e.Detail})
	default:
		return nil, fmt.Errorf("unknown stream event type %q", e.Type)
	}
}

// UnmarshalJSON reads the flat wire shape. Clients and tests use it to
// decode NDJSON streams.
func (e *StreamEvent) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type    EventType         `json:"type"`
		Content string            `json:"content"`
		Payload *InterruptPayload `json:"payload"`
		Detail  string            `json:"detail"`
		BestAnswer
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = StreamEvent{Type: raw.Type}
	switch raw.Type {
	case EventMessage:
		e.Content = raw.Content
	case EventBestAnswer:
		e.BestAnswer = raw.BestAnswer
	case EventInterrupt:
		e.Interrupt = raw.Payload
	case EventError:
		e.Detail = raw.Detail
	default:
		return fmt.Errorf("unknown stream event type %q", raw.Type)
	}
	return nil
}
