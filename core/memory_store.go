package core

import "context"

// MemoryStore persists threads keyed by thread id. Load creates an empty
// thread for an unseen id. Every other operation also creates the thread
// lazily so the executor never has to special-case first contact.
//
// Implementations must make all operations for a given thread linearizable.
// No cross-thread locking is required.
type MemoryStore interface {
	Load(ctx context.Context, threadID string) (*Thread, error)
	Append(ctx context.Context, threadID string, msgs ...Message) error
	SaveCheckpoint(ctx context.Context, threadID string, cp Checkpoint) error
	SetInterrupt(ctx context.Context, threadID string, in *PendingInterrupt) error
	ClearInterrupt(ctx context.Context, threadID string) error
}

// RunLocker is implemented by stores shared between processes. It leases a
// thread to one run so the one-run-per-thread rule holds across every
// process using the store. AcquireRun reports false while another run holds
// the lease; ReleaseRun is a no-op when runID no longer holds it.
type RunLocker interface {
	AcquireRun(ctx context.Context, threadID, runID string) (bool, error)
	ReleaseRun(ctx context.Context, threadID, runID string) error
}
