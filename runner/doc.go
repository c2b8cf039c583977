// Package runner implements the conversation executor.
//
// A run drives one thread through a small state machine:
//
//	AGENT → REVIEW → TOOLS → AGENT → … → DONE
//	           ↘ INTERRUPTED (until resumed)
//
// AGENT asks the model for the next step and streams its tokens. REVIEW is
// visited after every model step; the configured ReviewPolicy decides
// whether the step is approved or the thread is suspended with a
// PendingInterrupt. TOOLS executes the requested calls through the tool
// registry and feeds their results back to the model. DONE hands the
// streamed transcript to the side-effect dispatcher.
//
// # Invariants
//   - at most one run is in flight per thread; a second Run fails with
//     core.ErrConcurrencyViolation without touching state
//   - messages are appended to the thread only after they are complete;
//     partially streamed tokens are never persisted
//   - every transition saves a checkpoint, so a suspended thread can be
//     resumed by another process sharing the same store
//   - the event channel is unbuffered and closes after the terminal event
//
// Runner is safe for concurrent use.
package runner
