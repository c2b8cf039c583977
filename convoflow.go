// Package convoflow provides a high-level façade over the turn executor and
// its services (thread memory, tools, transcript dispatch and logging).
// Most applications interact with this package by:
//  1. Creating a ConvoFlow via New() with a model and optional overrides
//  2. Registering tools the model may call
//  3. Sending turns asynchronously (Invoke) or synchronously (InvokeSync)
//     and resuming threads suspended for review (Resume)
//
// All defaults are safe for local development and testing; production
// deployments supply a durable memory store, a dispatcher and a structured
// logger.
package convoflow

import (
	"context"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/dispatch"
	"github.com/hupe1980/convoflow/logging"
	"github.com/hupe1980/convoflow/memory"
	"github.com/hupe1980/convoflow/model"
	"github.com/hupe1980/convoflow/runner"
	"github.com/hupe1980/convoflow/tool"
)

// Options configures the ConvoFlow instance.
type Options struct {
	// Instructions is the system prompt template. Defaults to the
	// customer-service persona.
	Instructions string

	// Review decides which model steps wait for a human before executing.
	// Defaults to reviewing lead registration.
	Review runner.ReviewPolicy

	// MaxSteps bounds model steps per turn.
	MaxSteps int

	// MemoryStore holds threads (defaults to an in-memory implementation).
	MemoryStore core.MemoryStore

	// Dispatcher receives transcripts of completed turns. Nil disables it.
	Dispatcher dispatch.Dispatcher

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// ConvoFlow is the high-level façade aggregating the executor and services.
type ConvoFlow struct {
	opts     Options
	registry *tool.Registry
	runner   *runner.Runner
}

// New creates a ConvoFlow for model m. Any unset service is initialized with
// an in-memory implementation.
func New(m model.Model, optFns ...func(o *Options)) *ConvoFlow {
	opts := Options{
		Instructions: runner.DefaultInstructions,
		Review:       runner.ReviewTools(tool.LeadToolName),
		MaxSteps:     25,
		MemoryStore:  memory.NewInMemoryStore(),
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	registry := tool.NewRegistry()
	r := runner.New(m, func(o *runner.Options) {
		o.Store = opts.MemoryStore
		o.Registry = registry
		o.Dispatcher = opts.Dispatcher
		o.Instructions = opts.Instructions
		o.Review = opts.Review
		o.MaxSteps = opts.MaxSteps
		o.Logger = opts.Logger
	})

	return &ConvoFlow{opts: opts, registry: registry, runner: r}
}

// RegisterTool offers a tool to the model. User-facing tools have their
// results streamed to the caller.
func (c *ConvoFlow) RegisterTool(t tool.Tool, userFacing bool) error {
	return c.registry.Register(t, func(o *tool.RegisterOptions) { o.UserFacing = userFacing })
}

// Runner exposes the underlying executor, e.g. for the HTTP server.
func (c *ConvoFlow) Runner() *runner.Runner { return c.runner }

// Invoke starts an asynchronous turn returning event & error channels.
func (c *ConvoFlow) Invoke(
	ctx context.Context,
	threadID string,
	text string,
) (string, <-chan core.StreamEvent, <-chan error, error) {
	return c.runner.Run(ctx, threadID, runner.UserText(text))
}

// Resume continues a thread suspended for review with the approved text.
func (c *ConvoFlow) Resume(
	ctx context.Context,
	threadID string,
	editedText string,
) (string, <-chan core.StreamEvent, <-chan error, error) {
	return c.runner.Run(ctx, threadID, runner.ResumeWith(editedText))
}

// InvokeSync is a synchronous helper that drains the turn and returns the
// collected result.
func (c *ConvoFlow) InvokeSync(ctx context.Context, threadID string, text string) (runner.Result, error) {
	return c.runner.InvokeSync(ctx, threadID, runner.UserText(text))
}

// Cancel stops an in-flight turn by run ID.
func (c *ConvoFlow) Cancel(runID string) error { return c.runner.Cancel(runID) }

// Thread returns a snapshot of a conversation.
func (c *ConvoFlow) Thread(ctx context.Context, threadID string) (*core.Thread, error) {
	return c.opts.MemoryStore.Load(ctx, threadID)
}
