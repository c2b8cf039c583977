package tool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/internal/util"
)

// Definition is the model-facing declaration of a tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// RegisterOptions configures how a tool participates in a run.
type RegisterOptions struct {
	// UserFacing tools emit their successful result as a message event.
	UserFacing bool
}

type entry struct {
	tool       Tool
	userFacing bool
}

// Registry maps tool names to tools and invokes them uniformly.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool, optFns ...func(o *RegisterOptions)) error {
	if t == nil || t.Name() == "" {
		return errors.New("tool must have a name")
	}
	var opts RegisterOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = entry{tool: t, userFacing: opts.UserFacing}
	return nil
}

// MustRegister is Register that panics on error. Used during wiring.
func (r *Registry) MustRegister(t Tool, optFns ...func(o *RegisterOptions)) {
	if err := r.Register(t, optFns...); err != nil {
		panic(err)
	}
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, ok
}

// UserFacing reports whether the named tool produces caller-visible output.
func (r *Registry) UserFacing(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name].userFacing
}

// Definitions returns all tool declarations sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, Definition{
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			Parameters:  e.tool.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke runs the call and always returns a ToolResult: failures become
// results with status error whose payload is a diagnostic for the model.
// The returned error is non-nil exactly when the result is an error; it
// wraps core.ErrInvalidToolArguments when arguments failed validation, in
// which case the tool body is never reached.
func (r *Registry) Invoke(toolCtx *core.ToolContext, call core.ToolCall) (core.ToolResult, error) {
	t, ok := r.Get(call.Name)
	if !ok {
		err := NewToolError(call.Name, fmt.Sprintf("unknown tool %q", call.Name), CodeNotFound)
		return core.NewToolErrorResult(call, err.Message), err
	}

	args, err := util.ParseArguments(call.Arguments)
	if err != nil {
		toolErr := &ToolError{Tool: call.Name, Message: err.Error(), Code: CodeValidation, Details: err}
		return core.NewToolErrorResult(call, toolErr.Message), toolErr
	}

	if err := util.ValidateParameters(args, t.Parameters()); err != nil {
		toolErr := &ToolError{
			Tool:    call.Name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
		return core.NewToolErrorResult(call, toolErr.Message), toolErr
	}

	out, err := t.Call(toolCtx, args)
	if err != nil {
		var toolErr *ToolError
		if !errors.As(err, &toolErr) {
			toolErr = &ToolError{Tool: call.Name, Message: err.Error(), Code: CodeExecution, Details: err}
		}
		return core.NewToolErrorResult(call, toolErr.Message), toolErr
	}

	return core.NewToolResult(call, out), nil
}
