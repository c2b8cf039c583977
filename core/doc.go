// Package core provides the foundational domain types and interfaces used by
// convoflow. It defines the core abstractions for:
//
//   - Threads (long-lived conversations with ordered message history)
//   - Checkpoints and pending interrupts (resumable executor position)
//   - Tool calls and tool results (the uniform tool contract)
//   - Stream events (the wire contract with callers)
//   - The MemoryStore interface and the error taxonomy
//
// The package keeps implementation concerns (persistence, orchestration,
// transports) out of scope, exposing small interfaces to enable custom
// backends.
package core
