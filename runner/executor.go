package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/crm"
	"github.com/hupe1980/convoflow/internal/util"
	"github.com/hupe1980/convoflow/logging"
	"github.com/hupe1980/convoflow/metrics"
	"github.com/hupe1980/convoflow/model"
	"github.com/hupe1980/convoflow/stream"
)

type outcome string

const (
	outcomeDone        outcome = "done"
	outcomeInterrupted outcome = "interrupted"
	outcomeFailed      outcome = "failed"
	outcomeCancelled   outcome = "cancelled"
)

// cancelledToolResult is recorded for calls that never ran because their
// run was cancelled.
const cancelledToolResult = "tool call cancelled before completion"

// execution is the state of one run. thread mirrors the committed thread;
// the run is its only writer while the in-flight guard is held.
type execution struct {
	runID    string
	threadID string
	input    Input
	thread   *core.Thread
	emitter  *stream.Emitter
	limiter  *core.StepLimiter
	logger   logging.Logger
}

// transcript is the dispatch payload of a completed run.
func (ex *execution) transcript() crm.Transcript {
	human := ex.input.Text
	if ex.input.IsResume() || ex.input.Role == core.RoleSystem {
		if m, ok := ex.thread.LastMessage(core.RoleUser); ok {
			human = m.Text()
		}
	}
	return crm.Transcript{
		ThreadID:     ex.threadID,
		HumanMessage: human,
		AIMessage:    ex.emitter.Transcript(),
	}
}

func (r *Runner) execute(ctx context.Context, ex *execution) (outcome, error) {
	state, err := r.enter(ctx, ex)
	for err == nil {
		switch state {
		case core.StateAgent:
			state, err = r.agentNode(ctx, ex)
		case core.StateTools:
			state, err = r.toolsNode(ctx, ex)
		case core.StateInterrupted:
			return outcomeInterrupted, nil
		case core.StateDone:
			return outcomeDone, nil
		default:
			err = fmt.Errorf("unexpected executor state %q", state)
		}
	}
	return r.fail(ctx, ex, err)
}

// enter commits the run's input and returns the first state.
func (r *Runner) enter(ctx context.Context, ex *execution) (core.NodeState, error) {
	if ex.input.IsResume() {
		return r.resume(ctx, ex)
	}

	if ex.thread.Suspended() {
		// A new turn supersedes the step under review; nothing of it was committed.
		ex.logger.Info("runner.interrupt.discarded")
		if err := r.opts.Store.ClearInterrupt(ctx, ex.threadID); err != nil {
			return "", fmt.Errorf("failed to clear interrupt: %w", err)
		}
		ex.thread.Interrupt = nil
	}

	msgs := danglingResults(ex.thread)
	msgs = append(msgs, ex.input.message())
	if err := r.append(ctx, ex, msgs...); err != nil {
		return "", err
	}
	if err := r.checkpoint(ctx, ex, core.StateAgent); err != nil {
		return "", err
	}
	return core.StateAgent, nil
}

// resume finalizes the suspended step with the reviewer's text and leaves
// REVIEW towards TOOLS, or DONE when the step requested no tools.
func (r *Runner) resume(ctx context.Context, ex *execution) (core.NodeState, error) {
	pending := ex.thread.Interrupt.Pending
	edited := core.NewAssistantMessage(ex.input.Resume.EditedText, pending.ToolCalls()...)

	if err := r.checkpoint(ctx, ex, core.StateReview); err != nil {
		return "", err
	}
	if err := ex.emitter.Emit(ctx, core.NewMessageEvent(edited.Text())); err != nil {
		return "", err
	}
	if err := r.append(ctx, ex, edited); err != nil {
		return "", err
	}
	if err := r.opts.Store.ClearInterrupt(ctx, ex.threadID); err != nil {
		return "", fmt.Errorf("failed to clear interrupt: %w", err)
	}
	ex.thread.Interrupt = nil

	next := core.StateDone
	if len(edited.ToolCalls()) > 0 {
		next = core.StateTools
	}
	ex.logger.Info("runner.resume", "next", next, "tool_calls", len(edited.ToolCalls()))

	if err := r.checkpoint(ctx, ex, next); err != nil {
		return "", err
	}
	return next, nil
}

// agentNode runs one model step, streaming its tokens, then visits REVIEW.
func (r *Runner) agentNode(ctx context.Context, ex *execution) (core.NodeState, error) {
	if err := ex.limiter.Increment(); err != nil {
		return "", err
	}

	ctx, span := r.opts.Tracer.Start(ctx, "runner.agent", trace.WithAttributes(
		attribute.String("thread.id", ex.threadID),
		attribute.String("run.id", ex.runID),
		attribute.Int("step", ex.limiter.Count()),
	))
	defer span.End()

	req, err := r.buildRequest(ex)
	if err != nil {
		return "", err
	}

	stepCtx, cancelStep := context.WithCancel(ctx)
	defer cancelStep()

	respCh, errCh := r.model.Generate(stepCtx, req)

	var (
		final    *core.Content
		streamed bool
		emitErr  error
	)
	for resp := range respCh {
		if emitErr != nil {
			continue
		}
		if !resp.Partial {
			c := resp.Content
			final = &c
			continue
		}
		text := resp.Content.Text()
		if text == "" {
			continue
		}
		if err := ex.emitter.Emit(stepCtx, core.NewMessageEvent(text)); err != nil {
			emitErr = err
			cancelStep()
			continue
		}
		streamed = true
	}
	genErr := <-errCh

	if emitErr != nil {
		return "", emitErr
	}
	if genErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		span.SetStatus(codes.Error, genErr.Error())
		return "", fmt.Errorf("%w: %w", core.ErrUpstreamInference, genErr)
	}
	if final == nil {
		return "", fmt.Errorf("%w: model returned no final response", core.ErrUpstreamInference)
	}

	step := core.NewMessage(core.RoleAssistant, final.Parts...)
	span.SetAttributes(attribute.Int("tool_calls", len(step.ToolCalls())))

	// Providers that do not stream still contribute their text to the stream.
	if !streamed && step.Text() != "" {
		if err := ex.emitter.Emit(ctx, core.NewMessageEvent(step.Text())); err != nil {
			return "", err
		}
	}

	return r.reviewNode(ctx, ex, step)
}

// reviewNode approves the step or suspends the thread with it pending.
func (r *Runner) reviewNode(ctx context.Context, ex *execution, step core.Message) (core.NodeState, error) {
	if err := r.checkpoint(ctx, ex, core.StateReview); err != nil {
		return "", err
	}

	if r.opts.Review.RequiresReview(step) {
		step.RunID = ex.runID
		pending := core.NewPendingInterrupt(ex.runID, step)
		if err := r.opts.Store.SetInterrupt(ctx, ex.threadID, pending); err != nil {
			return "", fmt.Errorf("failed to persist interrupt: %w", err)
		}
		ex.thread.Interrupt = pending
		if err := r.checkpoint(ctx, ex, core.StateInterrupted); err != nil {
			return "", err
		}
		ex.logger.Info("runner.interrupt", "tool_calls", len(step.ToolCalls()))

		if err := ex.emitter.Emit(ctx, core.NewInterruptEvent(pending.Payload)); err != nil {
			// The suspension is durable; the caller can still resume.
			ex.logger.Warn("runner.interrupt.undelivered", "error", err)
		}
		return core.StateInterrupted, nil
	}

	if err := r.append(ctx, ex, step); err != nil {
		return "", err
	}

	next := core.StateDone
	if len(step.ToolCalls()) > 0 {
		next = core.StateTools
	}
	if err := r.checkpoint(ctx, ex, next); err != nil {
		return "", err
	}
	return next, nil
}

// toolsNode executes the calls of the last assistant message in order.
// Every call yields a tool message, including failures, so the model can
// react to them.
func (r *Runner) toolsNode(ctx context.Context, ex *execution) (core.NodeState, error) {
	ctx, span := r.opts.Tracer.Start(ctx, "runner.tools", trace.WithAttributes(
		attribute.String("thread.id", ex.threadID),
		attribute.String("run.id", ex.runID),
	))
	defer span.End()

	last, ok := ex.thread.LastMessage(core.RoleAssistant)
	if !ok {
		return "", errors.New("no assistant message to execute")
	}

	for _, call := range last.ToolCalls() {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		logger := logging.With(ex.logger, "tool", call.Name, "call_id", call.ID)
		toolCtx := core.NewToolContext(ctx, ex.threadID, ex.runID, call, ex.emitter.Emit, logger)

		result, err := r.opts.Registry.Invoke(toolCtx, call)
		metrics.RecordToolCall(call.Name, string(result.Status))
		if err != nil {
			logger.Warn("tool.call.error", "error", err)
		} else {
			logger.Debug("tool.call.ok")
		}

		// A cancelled call is not committed; the last committed result is
		// the resumable point.
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if err := r.append(ctx, ex, core.NewToolMessage(result)); err != nil {
			return "", err
		}

		if r.opts.Registry.UserFacing(call.Name) && !errors.Is(err, core.ErrInvalidToolArguments) {
			if text := result.Text(); text != "" {
				if err := ex.emitter.Emit(ctx, core.NewMessageEvent(text)); err != nil {
					return "", err
				}
			}
		}
	}

	span.SetAttributes(attribute.Int("tool_calls", len(last.ToolCalls())))

	if err := r.checkpoint(ctx, ex, core.StateAgent); err != nil {
		return "", err
	}
	return core.StateAgent, nil
}

// fail ends the run. Cancellation ends silently; every other fault is
// reported as an error event. Nothing is persisted, so the checkpoint
// keeps the last committed state.
func (r *Runner) fail(ctx context.Context, ex *execution, err error) (outcome, error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		ex.logger.Info("runner.run.cancelled", "error", err)
		return outcomeCancelled, err
	}

	ex.logger.Error("runner.run.failed", "error", err)
	if emitErr := ex.emitter.Emit(ctx, core.NewErrorEvent(err.Error())); emitErr != nil {
		ex.logger.Warn("runner.error.undelivered", "error", emitErr)
	}
	return outcomeFailed, err
}

func (r *Runner) buildRequest(ex *execution) (model.Request, error) {
	vars := map[string]any{
		"ThreadID": ex.threadID,
		"Input":    ex.input.Text,
	}
	for k, v := range ex.input.Vars {
		vars[k] = v
	}

	instructions, err := util.RenderTemplate(r.opts.Instructions, vars)
	if err != nil {
		return model.Request{}, fmt.Errorf("failed to render instructions: %w", err)
	}

	defs := r.opts.Registry.Definitions()
	tools := make([]model.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}

	return model.Request{
		Instructions: instructions,
		Contents:     ex.thread.History(),
		Tools:        tools,
		Stream:       true,
	}, nil
}

func (r *Runner) append(ctx context.Context, ex *execution, msgs ...core.Message) error {
	for i := range msgs {
		msgs[i].RunID = ex.runID
	}
	if err := r.opts.Store.Append(ctx, ex.threadID, msgs...); err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	ex.thread.Messages = append(ex.thread.Messages, msgs...)
	return nil
}

func (r *Runner) checkpoint(ctx context.Context, ex *execution, state core.NodeState) error {
	cp := core.Checkpoint{
		State:        state,
		RunID:        ex.runID,
		Step:         ex.limiter.Count(),
		MessageCount: len(ex.thread.Messages),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := r.opts.Store.SaveCheckpoint(ctx, ex.threadID, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	ex.thread.Checkpoint = cp
	return nil
}

// danglingResults closes tool calls left without results by a cancelled
// run, so the history stays acceptable to providers that require a result
// for every call.
func danglingResults(thread *core.Thread) []core.Message {
	last := -1
	for i := len(thread.Messages) - 1; i >= 0; i-- {
		if thread.Messages[i].Role() == core.RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 {
		return nil
	}

	answered := make(map[string]bool)
	for _, m := range thread.Messages[last+1:] {
		for _, res := range m.Content.ToolResults() {
			answered[res.CallID] = true
		}
	}

	var out []core.Message
	for _, call := range thread.Messages[last].ToolCalls() {
		if !answered[call.ID] {
			out = append(out, core.NewToolMessage(core.NewToolErrorResult(call, cancelledToolResult)))
		}
	}
	return out
}
