package engine

import (
	"errors"
	"fmt"

	"github.com/modsync/modsync/internal/conflict"
	"github.com/modsync/modsync/internal/vcs"
)

// Sentinel errors for sync orchestration.
var (
	// ErrModuleNotConfigured indicates the module has no usable remote.
	ErrModuleNotConfigured = errors.New("module remote not configured")
	// ErrOperationConflict indicates diverged history or a blocked
	// pre-check; not automatically retryable.
	ErrOperationConflict = errors.New("operation conflict")
)

// ErrorKind classifies a sync failure for retry policy, per the error
// taxonomy: configuration errors fail fast, transient errors retry with
// backoff, conflicts surface a strategy, everything else is a driver fault.
type ErrorKind string

const (
	KindConfig    ErrorKind = "config"
	KindTransient ErrorKind = "transient"
	KindConflict  ErrorKind = "conflict"
	KindDriver    ErrorKind = "driver"
)

// SyncError wraps a sync failure with its retry classification and, for
// conflicts, the predictor's recommended strategy.
type SyncError struct {
	Kind     ErrorKind
	Module   string
	Strategy conflict.Strategy
	Err      error
}

// Error renders the module, classification and cause.
func (e *SyncError) Error() string {
	if e.Strategy != "" {
		return fmt.Sprintf("sync %s: %s (%v) [suggested strategy: %s]", e.Module, e.Kind, e.Err, e.Strategy)
	}
	return fmt.Sprintf("sync %s: %s (%v)", e.Module, e.Kind, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error is safe to retry with backoff.
func (e *SyncError) Retryable() bool {
	return e.Kind == KindTransient
}

// classify maps an arbitrary failure onto the sync error taxonomy.
func classify(moduleName string, err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	kind := KindDriver
	switch {
	case errors.Is(err, ErrModuleNotConfigured):
		kind = KindConfig
	case errors.Is(err, vcs.ErrRemoteUnreachable), errors.Is(err, vcs.ErrTimeout):
		kind = KindTransient
	case errors.Is(err, vcs.ErrNonFastForward), errors.Is(err, ErrOperationConflict):
		kind = KindConflict
	}
	return &SyncError{Kind: kind, Module: moduleName, Err: err}
}

// Retryable reports whether an arbitrary error from a sync attempt is safe
// to retry. Unclassified errors are not retried.
func Retryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return errors.Is(err, vcs.ErrRemoteUnreachable) || errors.Is(err, vcs.ErrTimeout)
}
