package core

import (
	"encoding/json"
	"fmt"
)

// ToolCall is a tool invocation requested by the model. It is consumed
// exactly once by the tool registry.
type ToolCall struct {
	ID        string `json:"callId"`
	Name      string `json:"toolName"`
	Arguments string `json:"arguments,omitempty"` // Raw JSON as produced by the model
}

// ToolStatus is the outcome of a tool invocation.
type ToolStatus string

const (
	// ToolStatusOK marks a successful invocation.
	ToolStatusOK ToolStatus = "ok"
	// ToolStatusError marks a failed invocation. The payload carries a diagnostic.
	ToolStatusError ToolStatus = "error"
)

// ToolResult is the closed result variant of a tool invocation.
type ToolResult struct {
	CallID  string     `json:"callId"`
	Name    string     `json:"toolName"`
	Status  ToolStatus `json:"status"`
	Payload any        `json:"payload,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r ToolResult) OK() bool { return r.Status == ToolStatusOK }

// Text renders the payload as the string handed back to the model.
func (r ToolResult) Text() string {
	switch v := r.Payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// NewToolResult builds a successful result.
func NewToolResult(call ToolCall, payload any) ToolResult {
	return ToolResult{CallID: call.ID, Name: call.Name, Status: ToolStatusOK, Payload: payload}
}

// NewToolErrorResult builds an error result carrying a diagnostic payload.
func NewToolErrorResult(call ToolCall, diagnostic string) ToolResult {
	return ToolResult{CallID: call.ID, Name: call.Name, Status: ToolStatusError, Payload: diagnostic}
}
