package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/dispatch"
	"github.com/hupe1980/convoflow/logging"
	"github.com/hupe1980/convoflow/memory"
	"github.com/hupe1980/convoflow/metrics"
	"github.com/hupe1980/convoflow/model"
	"github.com/hupe1980/convoflow/stream"
	"github.com/hupe1980/convoflow/tool"
	"github.com/hupe1980/convoflow/tracing"
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Store persists threads. Defaults to a process-local store.
	Store core.MemoryStore
	// Registry holds the tools offered to the model.
	Registry *tool.Registry
	// Dispatcher receives the transcript of completed runs. Nil disables it.
	Dispatcher dispatch.Dispatcher
	// DispatchTimeout bounds the hand-off to Dispatcher.
	DispatchTimeout time.Duration
	// Instructions is the system prompt template.
	Instructions string
	// Review decides whether a model step suspends the thread.
	Review ReviewPolicy
	// MaxSteps limits model steps per run. Zero means unlimited.
	MaxSteps int
	// Tracer records run and node spans.
	Tracer trace.Tracer
	// Logging services.
	Logger logging.Logger
}

// inflight tracks active runs. It is shared by runners derived from one
// another so the one-run-per-thread rule holds across all of them.
type inflight struct {
	mu      sync.Mutex
	threads map[string]string             // thread id -> run id
	runs    map[string]context.CancelFunc // run id -> cancel
}

func newInflight() *inflight {
	return &inflight{threads: make(map[string]string), runs: make(map[string]context.CancelFunc)}
}

func (f *inflight) acquire(threadID, runID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.threads[threadID]; busy {
		return false
	}
	f.threads[threadID] = runID
	return true
}

func (f *inflight) register(runID string, cancel context.CancelFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID] = cancel
}

func (f *inflight) release(threadID, runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.threads[threadID] == runID {
		delete(f.threads, threadID)
	}
	delete(f.runs, runID)
}

func (f *inflight) cancel(runID string) bool {
	f.mu.Lock()
	cancel, ok := f.runs[runID]
	f.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Runner executes conversation turns against a model, a tool registry and a
// memory store. Public methods are safe for concurrent use.
type Runner struct {
	model model.Model
	opts  Options

	logger logging.Logger
	active *inflight
}

// New constructs a Runner with optional overrides.
func New(m model.Model, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Store:           memory.NewInMemoryStore(),
		Registry:        tool.NewRegistry(),
		DispatchTimeout: 10 * time.Second,
		Instructions:    DefaultInstructions,
		Review:          ReviewTools(tool.LeadToolName),
		MaxSteps:        25,
		Tracer:          tracing.Tracer(),
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return newRunner(m, opts, newInflight())
}

func newRunner(m model.Model, opts Options, active *inflight) *Runner {
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Review == nil {
		opts.Review = ReviewNever
	}
	if opts.Registry == nil {
		opts.Registry = tool.NewRegistry()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Noop()
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 10 * time.Second
	}
	return &Runner{model: m, opts: opts, logger: opts.Logger, active: active}
}

// Derive returns a runner with overridden options that shares this runner's
// model and in-flight guard. Runs of either runner on the same thread are
// mutually exclusive.
func (r *Runner) Derive(optFns ...func(o *Options)) *Runner {
	opts := r.opts
	for _, fn := range optFns {
		fn(&opts)
	}
	return newRunner(r.model, opts, r.active)
}

// Store returns the memory store backing the runner.
func (r *Runner) Store() core.MemoryStore { return r.opts.Store }

// Run starts an asynchronous run on threadID. It fails immediately, without
// mutating state, when the input is malformed, when the thread already has a
// run in flight, or when a resume targets a thread that is not suspended.
//
// The events channel is unbuffered and is closed after the terminal event,
// once the thread is free for the next run. The errors channel delivers at
// most one error and is closed after events, once the transcript has been
// handed to the dispatcher.
func (r *Runner) Run(
	ctx context.Context,
	threadID string,
	in Input,
) (string, <-chan core.StreamEvent, <-chan error, error) {
	if strings.TrimSpace(threadID) == "" {
		return "", nil, nil, fmt.Errorf("%w: thread id is empty", core.ErrValidation)
	}
	if err := in.validate(); err != nil {
		return "", nil, nil, err
	}

	runID := core.NewID()
	if err := r.acquire(ctx, threadID, runID); err != nil {
		return "", nil, nil, err
	}

	thread, err := r.opts.Store.Load(ctx, threadID)
	if err != nil {
		r.release(ctx, threadID, runID)
		return "", nil, nil, fmt.Errorf("failed to load thread: %w", err)
	}
	if in.IsResume() && !thread.Suspended() {
		r.release(ctx, threadID, runID)
		return "", nil, nil, fmt.Errorf("%w: thread %s", core.ErrNoPendingInterrupt, threadID)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.active.register(runID, cancel)

	emitter := stream.NewEmitter(func(ev core.StreamEvent) {
		metrics.RecordEvent(string(ev.Type))
	})
	errorsCh := make(chan error, 1)

	ex := &execution{
		runID:    runID,
		threadID: threadID,
		input:    in,
		thread:   thread,
		emitter:  emitter,
		limiter:  core.NewStepLimiter(r.opts.MaxSteps),
		logger:   logging.With(r.logger, "thread_id", threadID, "run_id", runID),
	}

	metrics.ActiveRuns.Inc()
	start := time.Now()

	go func() {
		defer func() {
			cancel()
			close(errorsCh)
		}()

		ctx, span := r.opts.Tracer.Start(ctx, "runner.run", trace.WithAttributes(
			attribute.String("thread.id", threadID),
			attribute.String("run.id", runID),
			attribute.Bool("run.resume", in.IsResume()),
		))
		defer span.End()

		ex.logger.Info("runner.run.start", "resume", in.IsResume())

		outcome, err := r.execute(ctx, ex)

		// Released before the stream closes so a caller may start the next
		// turn as soon as it has read the last event.
		r.release(ctx, threadID, runID)
		emitter.Close()
		metrics.ActiveRuns.Dec()
		metrics.RecordRun(string(outcome), time.Since(start).Seconds())
		span.SetAttributes(attribute.String("run.outcome", string(outcome)))

		if outcome == outcomeDone {
			r.dispatch(ctx, ex)
		}

		if err != nil {
			span.RecordError(err)
			ex.logger.Warn("runner.run.end", "outcome", outcome, "error", err)
			errorsCh <- err
			return
		}
		ex.logger.Info("runner.run.end", "outcome", outcome, "steps", ex.limiter.Count())
	}()

	return runID, emitter.Events(), errorsCh, nil
}

// InvokeSync runs to completion and returns the drained result. Run errors
// surface as a failed Result together with the error.
func (r *Runner) InvokeSync(ctx context.Context, threadID string, in Input) (Result, error) {
	runID, events, errs, err := r.Run(ctx, threadID, in)
	if err != nil {
		return Result{}, err
	}

	res := Result{RunID: runID, Status: StatusDone}

	var transcript strings.Builder
	for ev := range events {
		res.Events = append(res.Events, ev)
		switch ev.Type {
		case core.EventMessage:
			transcript.WriteString(ev.Content)
		case core.EventInterrupt:
			res.Status = StatusInterrupted
			res.Interrupt = ev.Interrupt
		case core.EventError:
			res.Status = StatusFailed
		}
	}
	res.Transcript = transcript.String()

	if runErr := <-errs; runErr != nil {
		res.Status = StatusFailed
		return res, runErr
	}

	if res.Status == StatusInterrupted {
		if res.Interrupt != nil {
			res.FinalContent = res.Interrupt.Generated
		}
		return res, nil
	}

	thread, err := r.opts.Store.Load(ctx, threadID)
	if err != nil {
		return res, fmt.Errorf("failed to load thread: %w", err)
	}
	if last, ok := thread.LastMessage(core.RoleAssistant); ok {
		res.FinalContent = last.Text()
	}

	return res, nil
}

// Cancel cancels a running run by ID.
func (r *Runner) Cancel(runID string) error {
	if !r.active.cancel(runID) {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// acquire takes the process-local guard and, for stores shared between
// processes, the thread lease.
func (r *Runner) acquire(ctx context.Context, threadID, runID string) error {
	if !r.active.acquire(threadID, runID) {
		return fmt.Errorf("%w: thread %s", core.ErrConcurrencyViolation, threadID)
	}

	locker, ok := r.opts.Store.(core.RunLocker)
	if !ok {
		return nil
	}
	leased, err := locker.AcquireRun(ctx, threadID, runID)
	if err != nil {
		r.active.release(threadID, runID)
		return fmt.Errorf("failed to lease thread: %w", err)
	}
	if !leased {
		r.active.release(threadID, runID)
		return fmt.Errorf("%w: thread %s is running elsewhere", core.ErrConcurrencyViolation, threadID)
	}
	return nil
}

// release undoes acquire. The lease is dropped even when ctx is cancelled.
func (r *Runner) release(ctx context.Context, threadID, runID string) {
	if locker, ok := r.opts.Store.(core.RunLocker); ok {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := locker.ReleaseRun(ctx, threadID, runID); err != nil {
			r.logger.Warn("runner.lease.release_failed", "thread_id", threadID, "run_id", runID, "error", err)
		}
		cancel()
	}
	r.active.release(threadID, runID)
}

// dispatch forwards the transcript of a completed run. The stream is
// already closed when this runs.
func (r *Runner) dispatch(ctx context.Context, ex *execution) {
	if r.opts.Dispatcher == nil {
		return
	}

	t := ex.transcript()
	if dispatch.Empty(t) {
		metrics.RecordDispatch("skipped")
		ex.logger.Debug("dispatch.skip.empty")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.DispatchTimeout)
	defer cancel()

	if err := r.opts.Dispatcher.Dispatch(ctx, t); err != nil {
		ex.logger.Warn("dispatch.submit.failed", "error", err)
	}
}

// IsRejection reports whether err is an immediate Run rejection that left
// the thread untouched.
func IsRejection(err error) bool {
	return errors.Is(err, core.ErrConcurrencyViolation) ||
		errors.Is(err, core.ErrNoPendingInterrupt) ||
		errors.Is(err, core.ErrValidation)
}
