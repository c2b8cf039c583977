package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convoflow/crm"
	"github.com/hupe1980/convoflow/internal/retry"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []crm.Transcript
	errs  []error
}

func (s *recordingSink) SendTranscript(_ context.Context, t crm.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, t)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func fastRetry(o *AsyncOptions) {
	o.Retry = retry.Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestAsyncDispatcher_SkipsEmptyTranscript(t *testing.T) {
	sink := &recordingSink{}
	d := NewAsyncDispatcher(sink, fastRetry)

	require.NoError(t, d.Dispatch(context.Background(), crm.Transcript{ThreadID: "t1", HumanMessage: "Hola", AIMessage: "  \n "}))
	d.Wait()

	assert.Equal(t, 0, sink.count())
}

func TestAsyncDispatcher_SendsAndRetries(t *testing.T) {
	sink := &recordingSink{errs: []error{&crm.StatusError{StatusCode: http.StatusBadGateway}}}
	d := NewAsyncDispatcher(sink, fastRetry)

	tr := crm.Transcript{ThreadID: "t1", HumanMessage: "Hola", AIMessage: "¡Hola! Soy JetourAI"}
	require.NoError(t, d.Dispatch(context.Background(), tr))
	d.Wait()

	require.Equal(t, 2, sink.count())
	assert.Equal(t, tr, sink.calls[1])
}

func TestAsyncDispatcher_PermanentFailureIsSwallowed(t *testing.T) {
	sink := &recordingSink{errs: []error{&crm.StatusError{StatusCode: http.StatusBadRequest}}}
	d := NewAsyncDispatcher(sink, fastRetry)

	require.NoError(t, d.Dispatch(context.Background(), crm.Transcript{ThreadID: "t1", AIMessage: "x"}))
	d.Wait()

	assert.Equal(t, 1, sink.count())
}

func TestAsyncDispatcher_OutlivesCallerContext(t *testing.T) {
	sink := &recordingSink{}
	d := NewAsyncDispatcher(sink, fastRetry)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(ctx, crm.Transcript{ThreadID: "t1", AIMessage: "x"}))
	cancel()
	d.Wait()

	assert.Equal(t, 1, sink.count())
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil))

	transient := errors.New("connection reset")
	assert.Same(t, transient, Classify(transient))

	assert.NotEqual(t, crm.ErrNotConfigured, Classify(crm.ErrNotConfigured))
	assert.ErrorIs(t, Classify(crm.ErrNotConfigured), crm.ErrNotConfigured)

	retryable := &crm.StatusError{StatusCode: http.StatusServiceUnavailable}
	assert.Equal(t, error(retryable), Classify(retryable))
}

func TestFunc(t *testing.T) {
	var n atomic.Int32
	var d Dispatcher = Func(func(context.Context, crm.Transcript) error {
		n.Add(1)
		return nil
	})
	require.NoError(t, d.Dispatch(context.Background(), crm.Transcript{}))
	assert.Equal(t, int32(1), n.Load())
}

func TestTranscriptWorker(t *testing.T) {
	job := func(args TranscriptJobArgs) *river.Job[TranscriptJobArgs] {
		return &river.Job[TranscriptJobArgs]{JobRow: &rivertype.JobRow{Attempt: 1}, Args: args}
	}

	t.Run("sends", func(t *testing.T) {
		sink := &recordingSink{}
		w := NewTranscriptWorker(sink, nil)
		require.NoError(t, w.Work(context.Background(), job(TranscriptJobArgs{ThreadID: "t1", HumanMessage: "h", AIMessage: "a"})))
		require.Equal(t, 1, sink.count())
		assert.Equal(t, crm.Transcript{ThreadID: "t1", HumanMessage: "h", AIMessage: "a"}, sink.calls[0])
	})

	t.Run("skips empty", func(t *testing.T) {
		sink := &recordingSink{}
		w := NewTranscriptWorker(sink, nil)
		require.NoError(t, w.Work(context.Background(), job(TranscriptJobArgs{ThreadID: "t1"})))
		assert.Equal(t, 0, sink.count())
	})

	t.Run("transient error is retried by river", func(t *testing.T) {
		sink := &recordingSink{errs: []error{&crm.StatusError{StatusCode: http.StatusInternalServerError}}}
		w := NewTranscriptWorker(sink, nil)
		err := w.Work(context.Background(), job(TranscriptJobArgs{ThreadID: "t1", AIMessage: "a"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "send transcript")
	})

	t.Run("permanent error cancels the job", func(t *testing.T) {
		sink := &recordingSink{errs: []error{crm.ErrNotConfigured}}
		w := NewTranscriptWorker(sink, nil)
		err := w.Work(context.Background(), job(TranscriptJobArgs{ThreadID: "t1", AIMessage: "a"}))
		require.Error(t, err)
		assert.ErrorIs(t, err, crm.ErrNotConfigured)
		assert.NotContains(t, err.Error(), "send transcript")
	})
}

func TestTranscriptJobArgs_Kind(t *testing.T) {
	assert.Equal(t, "crm_transcript", TranscriptJobArgs{}.Kind())
}
