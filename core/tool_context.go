package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/convoflow/logging"
)

// EmitFunc delivers a side-channel event into the run's stream. It blocks
// until the consumer accepts the event or the context ends.
type EmitFunc func(ctx context.Context, ev StreamEvent) error

// ToolContext provides a constrained surface for tool implementations
// invoked by the executor: the run context, identifiers for correlation,
// a logger and a way to emit side-channel events (e.g. bestAnswer).
type ToolContext struct {
	ctx      context.Context
	threadID string
	runID    string
	call     ToolCall
	emit     EmitFunc
	logger   logging.Logger
}

// NewToolContext constructs a tool context for one tool call. The logger is
// bound to the thread, run, tool and call ids.
func NewToolContext(ctx context.Context, threadID, runID string, call ToolCall, emit EmitFunc, logger logging.Logger) *ToolContext {
	return &ToolContext{
		ctx:      ctx,
		threadID: threadID,
		runID:    runID,
		call:     call,
		emit:     emit,
		logger: logging.With(logger,
			"thread_id", threadID,
			"run_id", runID,
			"tool", call.Name,
			"call_id", call.ID,
		),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// ThreadID returns the thread the invocation belongs to.
func (tc *ToolContext) ThreadID() string { return tc.threadID }

// RunID returns the run ID associated with the tool invocation.
func (tc *ToolContext) RunID() string { return tc.runID }

// CallID returns the tool call id (correlates model request and execution).
func (tc *ToolContext) CallID() string { return tc.call.ID }

// Call returns the tool call being executed.
func (tc *ToolContext) Call() ToolCall { return tc.call }

// Logger returns the logger bound to this tool call.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// Emit sends a side-channel event to the caller.
func (tc *ToolContext) Emit(ev StreamEvent) error {
	if tc.emit == nil {
		return fmt.Errorf("emit not configured")
	}
	return tc.emit(tc.ctx, ev)
}
