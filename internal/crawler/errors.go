package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks configuration rejected before any network activity.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoCheckpoint is returned by StateStore.Load when nothing was saved yet.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// PersistenceError reports a failed checkpoint or results write. It is the
// only run-time condition that aborts a crawl.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
