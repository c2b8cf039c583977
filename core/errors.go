package core

import "errors"

var (
	// ErrConcurrencyViolation is returned when a run is requested for a
	// thread that already has a run in flight.
	ErrConcurrencyViolation = errors.New("concurrency violation: thread already has an active run")

	// ErrNoPendingInterrupt is returned when a resume targets a thread that is
	// not suspended.
	ErrNoPendingInterrupt = errors.New("no pending interrupt for thread")

	// ErrInvalidToolArguments is returned when tool arguments fail schema
	// validation. The tool body is never reached.
	ErrInvalidToolArguments = errors.New("invalid tool arguments")

	// ErrUpstreamInference wraps failures of the model call itself.
	ErrUpstreamInference = errors.New("upstream inference error")

	// ErrOutputFormat is returned when structured model output cannot be parsed.
	ErrOutputFormat = errors.New("output format error")

	// ErrValidation marks malformed caller input (empty ids, empty resume text).
	ErrValidation = errors.New("validation error")

	// ErrThreadNotFound is used by store backends internally. Load never
	// returns it; unseen threads are created on first reference.
	ErrThreadNotFound = errors.New("thread not found")
)
