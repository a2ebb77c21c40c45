package jobstore

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("job not found")

	// ErrBusy is returned when a destructive operation is refused because
	// jobs still have live processes or the daemon is active.
	ErrBusy = errors.New("jobs are still active")
)

// CorruptError is returned when a persisted record cannot be parsed. It is
// surfaced to the caller rather than silently discarded; the store never
// auto-repairs.
type CorruptError struct {
	File   string
	Line   int
	Reason string
}

func (e CorruptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("corrupt state in %s line %d: %s", e.File, e.Line, e.Reason)
	}

	return fmt.Sprintf("corrupt state in %s: %s", e.File, e.Reason)
}
