package memory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/logging"
)

// ErrRevisionConflict signals a concurrent writer modified the key. Bucket
// implementations return it from Create, Update and Delete.
var ErrRevisionConflict = errors.New("revision conflict")

// Bucket is the subset of a KeyValue bucket used by KVStore.
type Bucket interface {
	// Get returns the value and revision of key or core.ErrThreadNotFound.
	Get(ctx context.Context, key string) ([]byte, uint64, error)
	// Create stores key only if it does not exist yet.
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	// Update stores key only if its current revision equals revision.
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	// Delete removes key only if its current revision equals revision.
	Delete(ctx context.Context, key string, revision uint64) error
}

// KVOptions configures a KVStore.
type KVOptions struct {
	// MaxAttempts bounds optimistic retries on revision conflicts.
	MaxAttempts int
	// LeaseTTL bounds how long a run lease survives a process that never
	// released it.
	LeaseTTL time.Duration
	Logger   logging.Logger
}

// KVStore is a durable MemoryStore persisting each thread as one JSON value.
// Writes are read-modify-write cycles guarded by the key revision, which keeps
// a thread linearizable across processes sharing the bucket. A local per-key
// lock avoids needless conflicts between goroutines of the same process.
//
// KVStore also implements core.RunLocker with a lease key per thread, so
// processes sharing the bucket never run the same thread at once.
type KVStore struct {
	bucket      Bucket
	maxAttempts int
	leaseTTL    time.Duration
	logger      logging.Logger
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

var (
	_ core.MemoryStore = (*KVStore)(nil)
	_ core.RunLocker   = (*KVStore)(nil)
)

// keyLock is a per-thread mutex dropped from the map once unreferenced.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKVStore creates a store on top of bucket.
func NewKVStore(bucket Bucket, optFns ...func(o *KVOptions)) *KVStore {
	opts := KVOptions{MaxAttempts: 5, LeaseTTL: 10 * time.Minute, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &KVStore{
		bucket:      bucket,
		maxAttempts: opts.MaxAttempts,
		leaseTTL:    opts.LeaseTTL,
		logger:      opts.Logger,
		now:         time.Now,
		locks:       make(map[string]*keyLock),
	}
}

// Load returns the stored thread or a fresh one for an unseen id. The fresh
// thread is persisted lazily by the first write.
func (s *KVStore) Load(ctx context.Context, threadID string) (*core.Thread, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: empty thread id", core.ErrValidation)
	}
	th, _, err := s.get(ctx, threadID)
	if errors.Is(err, core.ErrThreadNotFound) {
		return core.NewThread(threadID), nil
	}
	return th, err
}

// Append adds messages to the end of the thread history.
func (s *KVStore) Append(ctx context.Context, threadID string, msgs ...core.Message) error {
	return s.update(ctx, threadID, func(th *core.Thread) {
		th.Messages = append(th.Messages, msgs...)
	})
}

// SaveCheckpoint replaces the thread checkpoint.
func (s *KVStore) SaveCheckpoint(ctx context.Context, threadID string, cp core.Checkpoint) error {
	return s.update(ctx, threadID, func(th *core.Thread) {
		th.Checkpoint = cp
	})
}

// SetInterrupt records the pending interrupt for a suspended thread.
func (s *KVStore) SetInterrupt(ctx context.Context, threadID string, in *core.PendingInterrupt) error {
	return s.update(ctx, threadID, func(th *core.Thread) {
		th.Interrupt = in
	})
}

// ClearInterrupt removes the pending interrupt.
func (s *KVStore) ClearInterrupt(ctx context.Context, threadID string) error {
	return s.update(ctx, threadID, func(th *core.Thread) {
		th.Interrupt = nil
	})
}

func (s *KVStore) get(ctx context.Context, threadID string) (*core.Thread, uint64, error) {
	data, rev, err := s.bucket.Get(ctx, threadKey(threadID))
	if err != nil {
		return nil, 0, err
	}
	var th core.Thread
	if err := json.Unmarshal(data, &th); err != nil {
		return nil, 0, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	if th.Messages == nil {
		th.Messages = []core.Message{}
	}
	return &th, rev, nil
}

func (s *KVStore) update(ctx context.Context, threadID string, fn func(th *core.Thread)) error {
	if threadID == "" {
		return fmt.Errorf("%w: empty thread id", core.ErrValidation)
	}

	unlock := s.lock(threadID)
	defer unlock()

	key := threadKey(threadID)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		th, rev, err := s.get(ctx, threadID)
		created := false
		if errors.Is(err, core.ErrThreadNotFound) {
			th, created = core.NewThread(threadID), true
		} else if err != nil {
			return err
		}

		fn(th)
		th.Updated = time.Now().UTC()

		data, err := json.Marshal(th)
		if err != nil {
			return fmt.Errorf("encode thread %s: %w", threadID, err)
		}

		if created {
			_, err = s.bucket.Create(ctx, key, data)
		} else {
			_, err = s.bucket.Update(ctx, key, data, rev)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRevisionConflict) {
			return fmt.Errorf("store thread %s: %w", threadID, err)
		}
		s.logger.Debug("memory.kv.conflict", "thread_id", threadID, "attempt", attempt)
	}

	return fmt.Errorf("store thread %s: %w after %d attempts", threadID, ErrRevisionConflict, s.maxAttempts)
}

// lock takes the local per-thread mutex and returns its release.
func (s *KVStore) lock(threadID string) func() {
	s.mu.Lock()
	l, ok := s.locks[threadID]
	if !ok {
		l = &keyLock{}
		s.locks[threadID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, threadID)
		}
		s.mu.Unlock()
	}
}

type runLease struct {
	RunID     string    `json:"run_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AcquireRun leases threadID to runID. It reports false while another run
// holds an unexpired lease. Expired leases are taken over.
func (s *KVStore) AcquireRun(ctx context.Context, threadID, runID string) (bool, error) {
	if threadID == "" {
		return false, fmt.Errorf("%w: empty thread id", core.ErrValidation)
	}

	key := leaseKey(threadID)
	data, err := json.Marshal(runLease{RunID: runID, ExpiresAt: s.now().Add(s.leaseTTL)})
	if err != nil {
		return false, fmt.Errorf("encode lease %s: %w", threadID, err)
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		_, err := s.bucket.Create(ctx, key, data)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrRevisionConflict) {
			return false, fmt.Errorf("acquire lease %s: %w", threadID, err)
		}

		held, rev, err := s.bucket.Get(ctx, key)
		if errors.Is(err, core.ErrThreadNotFound) {
			continue // released in between
		}
		if err != nil {
			return false, fmt.Errorf("read lease %s: %w", threadID, err)
		}

		var lease runLease
		if err := json.Unmarshal(held, &lease); err == nil && s.now().Before(lease.ExpiresAt) {
			return false, nil
		}

		_, err = s.bucket.Update(ctx, key, data, rev)
		if err == nil {
			s.logger.Warn("memory.kv.lease.expired", "thread_id", threadID, "previous_run_id", lease.RunID, "run_id", runID)
			return true, nil
		}
		if errors.Is(err, ErrRevisionConflict) {
			return false, nil
		}
		return false, fmt.Errorf("take over lease %s: %w", threadID, err)
	}

	return false, nil
}

// ReleaseRun drops the lease if runID still holds it.
func (s *KVStore) ReleaseRun(ctx context.Context, threadID, runID string) error {
	key := leaseKey(threadID)

	held, rev, err := s.bucket.Get(ctx, key)
	if errors.Is(err, core.ErrThreadNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lease %s: %w", threadID, err)
	}

	var lease runLease
	if err := json.Unmarshal(held, &lease); err == nil && lease.RunID != runID {
		return nil // taken over after expiry
	}

	if err := s.bucket.Delete(ctx, key, rev); err != nil && !errors.Is(err, ErrRevisionConflict) {
		return fmt.Errorf("release lease %s: %w", threadID, err)
	}
	return nil
}

// threadKey maps an arbitrary thread id onto the restricted KV key alphabet.
func threadKey(threadID string) string {
	return "thread." + base64.RawURLEncoding.EncodeToString([]byte(threadID))
}

func leaseKey(threadID string) string {
	return "lease." + base64.RawURLEncoding.EncodeToString([]byte(threadID))
}

// jetStreamBucket adapts a jetstream.KeyValue to Bucket.
type jetStreamBucket struct {
	kv jetstream.KeyValue
}

// NewJetStreamBucket wraps a JetStream KeyValue bucket.
func NewJetStreamBucket(kv jetstream.KeyValue) Bucket {
	return &jetStreamBucket{kv: kv}
}

func (b *jetStreamBucket) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, 0, core.ErrThreadNotFound
		}
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

func (b *jetStreamBucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := b.kv.Create(ctx, key, value)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return 0, ErrRevisionConflict
	}
	return rev, err
}

func (b *jetStreamBucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	rev, err := b.kv.Update(ctx, key, value, revision)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return 0, ErrRevisionConflict
		}
		if errors.Is(err, jetstream.ErrKeyExists) {
			return 0, ErrRevisionConflict
		}
	}
	return rev, err
}

func (b *jetStreamBucket) Delete(ctx context.Context, key string, revision uint64) error {
	err := b.kv.Delete(ctx, key, jetstream.LastRevision(revision))
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return ErrRevisionConflict
		}
	}
	return err
}

// NATSConfig holds the connection settings for the durable store.
type NATSConfig struct {
	URL    string
	Token  string
	Bucket string
	// TTL expires untouched threads. Zero keeps them forever.
	TTL time.Duration
}

// OpenKVStore connects to NATS, ensures the bucket exists and returns the
// store together with a close function for the connection.
func OpenKVStore(ctx context.Context, cfg NATSConfig, logger logging.Logger) (*KVStore, func(), error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	opts := []nats.Option{
		nats.Name("convoflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("memory.nats.disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("memory.nats.reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("memory.nats.error", "error", err)
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "convoflow conversation threads",
			TTL:         cfg.TTL,
			History:     1,
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to open bucket %s: %w", cfg.Bucket, err)
	}

	store := NewKVStore(NewJetStreamBucket(kv), func(o *KVOptions) { o.Logger = logger })
	return store, nc.Close, nil
}
