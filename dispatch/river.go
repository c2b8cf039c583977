package dispatch

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/hupe1980/convoflow/crm"
	"github.com/hupe1980/convoflow/logging"
	"github.com/hupe1980/convoflow/metrics"
)

// TranscriptJobArgs is the durable job payload.
type TranscriptJobArgs struct {
	ThreadID     string `json:"thread_id"`
	HumanMessage string `json:"human_message"`
	AIMessage    string `json:"ai_message"`
}

// Kind returns the job kind for River.
func (TranscriptJobArgs) Kind() string {
	return "crm_transcript"
}

// Transcript converts the job payload back to the sink shape.
func (a TranscriptJobArgs) Transcript() crm.Transcript {
	return crm.Transcript{ThreadID: a.ThreadID, HumanMessage: a.HumanMessage, AIMessage: a.AIMessage}
}

// TranscriptWorker submits queued transcripts. River retries failed jobs up
// to MaxAttempts; errors that cannot succeed on retry cancel the job.
type TranscriptWorker struct {
	river.WorkerDefaults[TranscriptJobArgs]
	sink   TranscriptSender
	logger logging.Logger
}

// NewTranscriptWorker creates the worker.
func NewTranscriptWorker(sink TranscriptSender, logger logging.Logger) *TranscriptWorker {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &TranscriptWorker{sink: sink, logger: logger}
}

// Work performs one submission.
func (w *TranscriptWorker) Work(ctx context.Context, job *river.Job[TranscriptJobArgs]) error {
	t := job.Args.Transcript()
	if Empty(t) {
		metrics.RecordDispatch("skipped")
		return nil
	}

	if err := w.sink.SendTranscript(ctx, t); err != nil {
		if Classify(err) != err {
			metrics.RecordDispatch("failed")
			w.logger.Warn("dispatch.submit.failed", "thread_id", t.ThreadID, "attempt", job.Attempt, "error", err)
			return river.JobCancel(err)
		}
		w.logger.Warn("dispatch.submit.retry", "thread_id", t.ThreadID, "attempt", job.Attempt, "error", err)
		return fmt.Errorf("send transcript: %w", err)
	}

	metrics.RecordDispatch("sent")
	w.logger.Debug("dispatch.submit.ok", "thread_id", t.ThreadID, "attempt", job.Attempt)
	return nil
}

// RiverOptions configures a RiverDispatcher.
type RiverOptions struct {
	MaxWorkers  int
	MaxAttempts int
	// Migrate runs River's schema migrations on startup.
	Migrate bool
	Logger  logging.Logger
}

// RiverDispatcher persists transcripts as River jobs in Postgres so
// submissions survive restarts.
type RiverDispatcher struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	opts   RiverOptions
	logger logging.Logger
}

// NewRiverDispatcher connects to databaseURL and registers the worker.
func NewRiverDispatcher(ctx context.Context, databaseURL string, sink TranscriptSender, optFns ...func(o *RiverOptions)) (*RiverDispatcher, error) {
	opts := RiverOptions{
		MaxWorkers:  10,
		MaxAttempts: 5,
		Migrate:     true,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	driver := riverpgxv5.New(pool)

	if opts.Migrate {
		migrator, err := rivermigrate.New(driver, nil)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate river schema: %w", err)
		}
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewTranscriptWorker(sink, opts.Logger))

	client, err := river.NewClient(driver, &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: opts.MaxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &RiverDispatcher{client: client, pool: pool, opts: opts, logger: opts.Logger}, nil
}

// Start starts the job workers.
func (d *RiverDispatcher) Start(ctx context.Context) error {
	return d.client.Start(ctx)
}

// Stop stops the workers and closes the pool.
func (d *RiverDispatcher) Stop(ctx context.Context) error {
	defer d.pool.Close()
	return d.client.Stop(ctx)
}

// Dispatch implements Dispatcher by inserting a job.
func (d *RiverDispatcher) Dispatch(ctx context.Context, t crm.Transcript) error {
	if Empty(t) {
		metrics.RecordDispatch("skipped")
		return nil
	}

	args := TranscriptJobArgs{ThreadID: t.ThreadID, HumanMessage: t.HumanMessage, AIMessage: t.AIMessage}
	if _, err := d.client.Insert(context.WithoutCancel(ctx), args, &river.InsertOpts{MaxAttempts: d.opts.MaxAttempts}); err != nil {
		metrics.RecordDispatch("failed")
		return fmt.Errorf("failed to queue transcript job: %w", err)
	}

	d.logger.Debug("dispatch.enqueued", "thread_id", t.ThreadID)
	return nil
}
