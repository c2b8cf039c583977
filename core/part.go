package core

import (
	"encoding/json"
	"fmt"
)

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map).
type DataPart struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// isPart implements the Part interface for DataPart.
func (DataPart) isPart() {}

// ToolCallPart wraps a ToolCall requested by the model as a content part.
type ToolCallPart struct {
	Call     ToolCall       `json:"call"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// isPart implements the Part interface for ToolCallPart.
func (ToolCallPart) isPart() {}

// ToolResultPart wraps the ToolResult of a completed call as a content part.
type ToolResultPart struct {
	Result   ToolResult     `json:"result"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// isPart implements the Part interface for ToolResultPart.
func (ToolResultPart) isPart() {}

// Content holds role + ordered parts.
type Content struct {
	Role  Role   `json:"role,omitempty"` // Conversation role (user, assistant, tool, system)
	Parts []Part `json:"parts"`          // Ordered heterogeneous parts
}

// Text concatenates all text parts in order.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolCalls returns the tool call parts preserving their original order.
func (c Content) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range c.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc.Call)
		}
	}
	return calls
}

// ToolResults returns the tool result parts preserving their original order.
func (c Content) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range c.Parts {
		if tr, ok := p.(ToolResultPart); ok {
			results = append(results, tr.Result)
		}
	}
	return results
}

const (
	partKindText       = "text"
	partKindData       = "data"
	partKindToolCall   = "tool_call"
	partKindToolResult = "tool_result"
)

// wirePart is the tagged JSON envelope for a Part.
type wirePart struct {
	Kind       string          `json:"kind"`
	Text       *TextPart       `json:"text,omitempty"`
	Data       *DataPart       `json:"data,omitempty"`
	ToolCall   *ToolCallPart   `json:"tool_call,omitempty"`
	ToolResult *ToolResultPart `json:"tool_result,omitempty"`
}

type wireContent struct {
	Role  Role       `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

// MarshalJSON encodes parts as tagged envelopes so threads survive a round
// trip through durable stores.
func (c Content) MarshalJSON() ([]byte, error) {
	wc := wireContent{Role: c.Role, Parts: make([]wirePart, 0, len(c.Parts))}
	for _, p := range c.Parts {
		switch v := p.(type) {
		case TextPart:
			wc.Parts = append(wc.Parts, wirePart{Kind: partKindText, Text: &v})
		case DataPart:
			wc.Parts = append(wc.Parts, wirePart{Kind: partKindData, Data: &v})
		case ToolCallPart:
			wc.Parts = append(wc.Parts, wirePart{Kind: partKindToolCall, ToolCall: &v})
		case ToolResultPart:
			wc.Parts = append(wc.Parts, wirePart{Kind: partKindToolResult, ToolResult: &v})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}
	return json.Marshal(wc)
}

// UnmarshalJSON decodes the tagged envelopes written by MarshalJSON.
func (c *Content) UnmarshalJSON(b []byte) error {
	var wc wireContent
	if err := json.Unmarshal(b, &wc); err != nil {
		return err
	}
	c.Role = wc.Role
	c.Parts = make([]Part, 0, len(wc.Parts))
	for _, wp := range wc.Parts {
		switch {
		case wp.Kind == partKindText && wp.Text != nil:
			c.Parts = append(c.Parts, *wp.Text)
		case wp.Kind == partKindData && wp.Data != nil:
			c.Parts = append(c.Parts, *wp.Data)
		case wp.Kind == partKindToolCall && wp.ToolCall != nil:
			c.Parts = append(c.Parts, *wp.ToolCall)
		case wp.Kind == partKindToolResult && wp.ToolResult != nil:
			c.Parts = append(c.Parts, *wp.ToolResult)
		default:
			return fmt.Errorf("unknown part kind %q", wp.Kind)
		}
	}
	return nil
}
