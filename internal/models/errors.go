package models

import (
	"errors"
	"fmt"
)

var (
	// ErrTableNotFound is returned by the target store when the
	// addressed relation does not exist.
	ErrTableNotFound = errors.New("table not found")

	// ErrRunInProgress rejects a second concurrent run for the same
	// worker. The caller is not queued.
	ErrRunInProgress = errors.New("run already in progress")

	ErrWorkerNotFound = errors.New("worker not found")
	ErrJobNotFound    = errors.New("migration job not found")
)

// ConnectionError wraps a connectivity or query failure against the
// source or target store. Callers decide retry policy; the engine never
// retries within a run.
type ConnectionError struct {
	Side  string // "source" or "target"
	Phase string // e.g. "count", "fetch", "insert"
	Table string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s failed for %s: %v", e.Side, e.Phase, e.Table, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ConfigError marks a failure that retrying cannot fix, e.g. a missing
// target table for an incremental worker or a non-numeric pk column.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
