// Package memory contains concrete core.MemoryStore implementations. The
// store contract lives in the core package; depend on core.MemoryStore in
// your code and select an implementation at wiring time:
//
//   - InMemoryStore keeps threads in a process-local map (tests, demos, the CLI)
//   - KVStore persists threads in a NATS JetStream KeyValue bucket and detects
//     concurrent writers through revision checks
//
// Both stores create threads lazily on first reference and hand out clones,
// so callers can never mutate stored state by accident.
package memory
