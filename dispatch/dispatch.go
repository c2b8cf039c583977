// Package dispatch forwards completed conversation transcripts to the CRM
// after a run reaches DONE. Submission is best effort: failures are logged
// and never reach the caller, and the caller never waits on the sink.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/convoflow/crm"
	"github.com/hupe1980/convoflow/internal/retry"
	"github.com/hupe1980/convoflow/logging"
	"github.com/hupe1980/convoflow/metrics"
)

// Dispatcher hands a transcript to a sink without blocking the caller for
// the sink's round trip. The returned error reports only failures to accept
// the transcript (e.g. a job queue insert); sink failures are absorbed.
type Dispatcher interface {
	Dispatch(ctx context.Context, t crm.Transcript) error
}

// TranscriptSender is the sink. *crm.Client implements it.
type TranscriptSender interface {
	SendTranscript(ctx context.Context, t crm.Transcript) error
}

// Empty reports whether the transcript carries no assistant text.
func Empty(t crm.Transcript) bool {
	return strings.TrimSpace(t.AIMessage) == ""
}

// Classify marks sink errors that retrying cannot fix as permanent.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, crm.ErrNotConfigured) {
		return retry.Permanent(err)
	}
	var statusErr *crm.StatusError
	if errors.As(err, &statusErr) && !statusErr.Temporary() {
		return retry.Permanent(err)
	}
	return err
}

// AsyncOptions configures an AsyncDispatcher.
type AsyncOptions struct {
	Retry retry.Config
	// Timeout bounds one dispatch including retries.
	Timeout time.Duration
	Logger  logging.Logger
}

// AsyncDispatcher submits each transcript on its own goroutine with retry.
type AsyncDispatcher struct {
	sink   TranscriptSender
	opts   AsyncOptions
	logger logging.Logger
	wg     sync.WaitGroup
}

// NewAsyncDispatcher creates a dispatcher in front of sink.
func NewAsyncDispatcher(sink TranscriptSender, optFns ...func(o *AsyncOptions)) *AsyncDispatcher {
	opts := AsyncOptions{
		Retry:   retry.DefaultConfig(),
		Timeout: time.Minute,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &AsyncDispatcher{sink: sink, opts: opts, logger: opts.Logger}
}

// Dispatch implements Dispatcher. It returns immediately.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, t crm.Transcript) error {
	if Empty(t) {
		metrics.RecordDispatch("skipped")
		d.logger.Debug("dispatch.skip.empty", "thread_id", t.ThreadID)
		return nil
	}

	// The caller's request may end before the sink answers.
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()

		res, err := retry.Do(ctx, d.opts.Retry, func(ctx context.Context) error {
			return Classify(d.sink.SendTranscript(ctx, t))
		}, d.logger)
		if err != nil {
			metrics.RecordDispatch("failed")
			d.logger.Warn("dispatch.submit.failed", "thread_id", t.ThreadID, "attempts", res.Attempts, "error", err)
			return
		}
		metrics.RecordDispatch("sent")
		d.logger.Debug("dispatch.submit.ok", "thread_id", t.ThreadID, "attempts", res.Attempts)
	}()

	return nil
}

// Wait blocks until in-flight submissions finish. Used on shutdown.
func (d *AsyncDispatcher) Wait() { d.wg.Wait() }

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, t crm.Transcript) error

// Dispatch implements Dispatcher.
func (f Func) Dispatch(ctx context.Context, t crm.Transcript) error { return f(ctx, t) }
