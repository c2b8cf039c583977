package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleUser is a message written by the end user.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the model.
	RoleAssistant Role = "assistant"
	// RoleTool carries the result of a tool invocation.
	RoleTool Role = "tool"
	// RoleSystem carries instructions for the model.
	RoleSystem Role = "system"
)

// Message is a single entry of a thread's history. It is immutable once
// appended; insertion order is the model's context.
type Message struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Content   Content   `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewID generates a new unique identifier for runs and messages.
func NewID() string { return uuid.NewString() }

// NewMessage creates a message with the given role and parts.
func NewMessage(role Role, parts ...Part) Message {
	return Message{
		ID:        NewID(),
		Content:   Content{Role: role, Parts: parts},
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessage creates a user-authored text message.
func NewUserMessage(text string) Message {
	return NewMessage(RoleUser, TextPart{Text: text})
}

// NewSystemMessage creates a system instruction message.
func NewSystemMessage(text string) Message {
	return NewMessage(RoleSystem, TextPart{Text: text})
}

// NewAssistantMessage creates an assistant message with optional text and
// tool call requests. Empty text produces no text part.
func NewAssistantMessage(text string, calls ...ToolCall) Message {
	parts := make([]Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, TextPart{Text: text})
	}
	for _, c := range calls {
		parts = append(parts, ToolCallPart{Call: c})
	}
	return NewMessage(RoleAssistant, parts...)
}

// NewToolMessage records a tool result so it can be fed back to the model.
func NewToolMessage(result ToolResult) Message {
	return NewMessage(RoleTool, ToolResultPart{Result: result})
}

// Role returns the message author role.
func (m Message) Role() Role { return m.Content.Role }

// Text returns the concatenated text parts.
func (m Message) Text() string { return m.Content.Text() }

// ToolCalls returns the tool calls requested by an assistant message.
func (m Message) ToolCalls() []ToolCall { return m.Content.ToolCalls() }
