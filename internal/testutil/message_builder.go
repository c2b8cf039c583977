package testutil

import (
	"fmt"

	"github.com/hupe1980/convoflow/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	m := NewMessageBuilder().AssistantText("hola").ToolCall("SearchFAQs", `{"query":"x70"}`).Build()
type MessageBuilder struct {
	id      string
	runID   string
	role    core.Role
	texts   []string
	calls   []core.ToolCall
	results []core.ToolResult
}

// NewMessageBuilder creates a builder with default role assistant.
func NewMessageBuilder() *MessageBuilder { return &MessageBuilder{role: core.RoleAssistant} }

// ID overrides the auto-generated message ID (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// Run sets the run ID (chainable).
func (b *MessageBuilder) Run(id string) *MessageBuilder { b.runID = id; return b }

// UserText appends a text part and sets role to user (chainable).
func (b *MessageBuilder) UserText(t string) *MessageBuilder {
	b.role = core.RoleUser
	b.texts = append(b.texts, t)
	return b
}

// AssistantText appends a text part and sets role to assistant (chainable).
func (b *MessageBuilder) AssistantText(t string) *MessageBuilder {
	b.role = core.RoleAssistant
	b.texts = append(b.texts, t)
	return b
}

// ToolCall adds a tool call part with a sequential call id (chainable).
func (b *MessageBuilder) ToolCall(name, args string) *MessageBuilder {
	b.role = core.RoleAssistant
	id := fmt.Sprintf("call-%d", len(b.calls)+1)
	b.calls = append(b.calls, core.ToolCall{ID: id, Name: name, Arguments: args})
	return b
}

// ToolResult adds a tool result part and sets role to tool (chainable).
func (b *MessageBuilder) ToolResult(r core.ToolResult) *MessageBuilder {
	b.role = core.RoleTool
	b.results = append(b.results, r)
	return b
}

// Build constructs the core.Message value.
func (b *MessageBuilder) Build() core.Message {
	parts := make([]core.Part, 0, len(b.texts)+len(b.calls)+len(b.results))
	for _, t := range b.texts {
		parts = append(parts, core.TextPart{Text: t})
	}
	for _, c := range b.calls {
		parts = append(parts, core.ToolCallPart{Call: c})
	}
	for _, r := range b.results {
		parts = append(parts, core.ToolResultPart{Result: r})
	}
	m := core.NewMessage(b.role, parts...)
	if b.id != "" {
		m.ID = b.id
	}
	m.RunID = b.runID
	return m
}
