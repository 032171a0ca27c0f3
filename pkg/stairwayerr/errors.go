// Package stairwayerr collects the sentinel error kinds surfaced across
// the engine's API, so callers can branch with errors.Is instead of
// string matching.
package stairwayerr

import "errors"

var (
	// ErrDuplicateID is returned by Submit when the flight id already
	// exists in the journal.
	ErrDuplicateID = errors.New("stairway: duplicate flight id")

	// ErrUnknownClass is returned when a factory has no constructor
	// registered for the requested class_name.
	ErrUnknownClass = errors.New("stairway: unknown flight class")

	// ErrNotFound is returned when a flight id has no row in the journal.
	ErrNotFound = errors.New("stairway: flight not found")

	// ErrInvalidFilter is returned by Enumerate for a malformed predicate.
	ErrInvalidFilter = errors.New("stairway: invalid enumerate filter")

	// ErrInvalidPageToken is returned by Enumerate for a malformed page
	// token.
	ErrInvalidPageToken = errors.New("stairway: invalid page token")

	// ErrShutdown is returned by Submit/SubmitToQueue after the engine
	// has quiesced or shut down.
	ErrShutdown = errors.New("stairway: engine is shutting down")

	// ErrWaitTimedOut is returned by Wait when its timeout elapses before
	// the flight reaches a terminal status.
	ErrWaitTimedOut = errors.New("stairway: wait timed out")

	// ErrUnrecoverableMap is returned by Reconstruct when a working-map
	// or input value cannot be deserialized. The flight is forced FATAL;
	// this error is never retried.
	ErrUnrecoverableMap = errors.New("stairway: unrecoverable working map")

	// ErrQueue wraps a failure from the configured Queue implementation.
	ErrQueue = errors.New("stairway: work queue error")

	// ErrMigrate wraps a schema migration failure at startup.
	ErrMigrate = errors.New("stairway: migration error")

	// ErrDatabaseSetup wraps a failure opening or preparing the
	// relational store at startup.
	ErrDatabaseSetup = errors.New("stairway: database setup error")

	// ErrRetry is the designated control-flow error steps may wrap in a
	// types.FailureFatal result's error; the engine then handles that
	// result as FAILURE_RETRY instead of FAILURE_FATAL.
	ErrRetry = errors.New("stairway: retry requested")

	// ErrInvalidMeterName is returned when a progress meter name begins
	// with the reserved prefix.
	ErrInvalidMeterName = errors.New("stairway: invalid progress meter name")
)
