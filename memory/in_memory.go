package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/convoflow/core"
)

// InMemoryStore is a volatile MemoryStore storing threads in a process local
// map. It is safe for concurrent access. Each returned thread is cloned to
// prevent external mutation of internal state. Threads are kept for the
// lifetime of the process.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*core.Thread
}

// NewInMemoryStore constructs an empty in-memory thread store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string]*core.Thread)}
}

// Load returns a clone of the thread, creating it lazily.
func (s *InMemoryStore) Load(_ context.Context, threadID string) (*core.Thread, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: empty thread id", core.ErrValidation)
	}

	s.mu.RLock()
	th, ok := s.threads[threadID]
	if ok {
		clone := th.Clone()
		s.mu.RUnlock()
		return clone, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadLocked(threadID).Clone(), nil
}

// Append adds messages to the end of the thread history.
func (s *InMemoryStore) Append(_ context.Context, threadID string, msgs ...core.Message) error {
	return s.update(threadID, func(th *core.Thread) {
		th.Messages = append(th.Messages, msgs...)
	})
}

// SaveCheckpoint replaces the thread checkpoint.
func (s *InMemoryStore) SaveCheckpoint(_ context.Context, threadID string, cp core.Checkpoint) error {
	return s.update(threadID, func(th *core.Thread) {
		th.Checkpoint = cp
	})
}

// SetInterrupt records the pending interrupt for a suspended thread.
func (s *InMemoryStore) SetInterrupt(_ context.Context, threadID string, in *core.PendingInterrupt) error {
	return s.update(threadID, func(th *core.Thread) {
		if in == nil {
			th.Interrupt = nil
			return
		}
		cp := *in
		th.Interrupt = &cp
	})
}

// ClearInterrupt removes the pending interrupt.
func (s *InMemoryStore) ClearInterrupt(_ context.Context, threadID string) error {
	return s.update(threadID, func(th *core.Thread) {
		th.Interrupt = nil
	})
}

// Len returns the number of known threads.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

func (s *InMemoryStore) update(threadID string, fn func(th *core.Thread)) error {
	if threadID == "" {
		return fmt.Errorf("%w: empty thread id", core.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	th := s.threadLocked(threadID)
	fn(th)
	th.Updated = time.Now().UTC()
	return nil
}

// threadLocked returns the stored thread, allocating it when missing; caller
// must hold the write lock.
func (s *InMemoryStore) threadLocked(threadID string) *core.Thread {
	th, ok := s.threads[threadID]
	if !ok {
		th = core.NewThread(threadID)
		s.threads[threadID] = th
	}
	return th
}
