package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/convoflow/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by the executor.
type Request struct {
	Instructions string           `json:"instructions"` // System instructions for the model
	Contents     []core.Content   `json:"contents"`     // Thread history converted to provider messages
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
// Partial responses carry text deltas only; the final response carries the
// complete text and every tool call in request order.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required to drive generation. Both channels
// are closed when generation ends; at most one error is delivered.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Complete drains a non-streaming generation and returns the final content.
func Complete(ctx context.Context, m Model, req Request) (core.Content, error) {
	req.Stream = false
	respCh, errCh := m.Generate(ctx, req)

	var (
		final core.Content
		found bool
	)
	for resp := range respCh {
		if !resp.Partial {
			final, found = resp.Content, true
		}
	}
	if err := <-errCh; err != nil {
		return core.Content{}, err
	}
	if !found {
		return core.Content{}, errors.New("model returned no final response")
	}
	return final, nil
}

// Turn is one scripted model step.
type Turn struct {
	Tokens []string        // streamed as partial text responses
	Calls  []core.ToolCall // returned in the final response
	Err    error           // delivered after the tokens when set
	// Block, if set, delays the final response until it is closed or the
	// context ends. Used to hold a run in flight.
	Block <-chan struct{}
}

// TextTurn is a turn answering with the given tokens.
func TextTurn(tokens ...string) Turn { return Turn{Tokens: tokens} }

// ToolTurn is a turn requesting tool calls without text.
func ToolTurn(calls ...core.ToolCall) Turn { return Turn{Calls: calls} }

// ErrorTurn is a turn failing with err.
func ErrorTurn(err error) Turn { return Turn{Err: err} }

// ScriptedModel is a deterministic in-memory Model for tests and demos. Each
// Generate call consumes the next scripted turn and records the request.
type ScriptedModel struct {
	mu       sync.Mutex
	turns    []Turn
	requests []Request
	info     Info
}

// NewScriptedModel constructs a ScriptedModel with the given turns.
func NewScriptedModel(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{
		turns: turns,
		info:  Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
	}
}

// Add appends turns to the script.
func (m *ScriptedModel) Add(turns ...Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
}

// Requests returns the requests received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Remaining returns the number of unconsumed turns.
func (m *ScriptedModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

func (m *ScriptedModel) next(req Request) (Turn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.turns) == 0 {
		return Turn{}, false
	}
	t := m.turns[0]
	m.turns = m.turns[1:]
	return t, true
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		turn, ok := m.next(req)
		if !ok {
			errCh <- fmt.Errorf("scripted model: no turn left for request %d", len(m.Requests()))
			return
		}

		send := func(r Response) bool {
			select {
			case respCh <- r:
				return true
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			}
		}

		var text string
		for _, tok := range turn.Tokens {
			text += tok
			if !req.Stream {
				continue
			}
			partial := Response{Partial: true, Content: core.Content{Role: core.RoleAssistant, Parts: []core.Part{core.TextPart{Text: tok}}}}
			if !send(partial) {
				return
			}
		}

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		if turn.Block != nil {
			select {
			case <-turn.Block:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}

		parts := make([]core.Part, 0, len(turn.Calls)+1)
		if text != "" {
			parts = append(parts, core.TextPart{Text: text})
		}
		for _, c := range turn.Calls {
			parts = append(parts, core.ToolCallPart{Call: c})
		}
		finish := "stop"
		if len(turn.Calls) > 0 {
			finish = "tool_calls"
		}
		send(Response{Content: core.Content{Role: core.RoleAssistant, Parts: parts}, FinishReason: finish})
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }
