// Package logging provides a minimal logging interface and adapters for convoflow.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the runner, tools and dispatchers use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter and ZapAdapter wrapping structured loggers
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - With for attaching fields such as thread_id to every entry
//
// Usage:
//
//	zl, _ := logging.NewZapLogger(logging.LogLevelInfo, "json")
//	r := runner.New(m, func(o *runner.Options) { o.Logger = logging.NewZapAdapter(zl) })
package logging
