package wbdclip

import (
	"errors"
	"fmt"
	"time"
)

// ErrEnumeration is returned when the work item registry cannot be listed,
// or lists no items at all. It is fatal to a run.
type ErrEnumeration struct {
	Source string
	Err    error
}

func (err ErrEnumeration) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("enumerate %s: no work items", err.Source)
	}
	return fmt.Sprintf("enumerate %s: %v", err.Source, err.Err)
}

func (err ErrEnumeration) Unwrap() error {
	return err.Err
}

// ErrPlanning is returned for degenerate chunking parameters
type ErrPlanning struct {
	msg string
}

func (err ErrPlanning) Error() string {
	return err.msg
}

// ErrLockContention is returned by LockDir.Acquire when another worker holds
// a live lock on the item. Callers skip the item; it is not a failure.
var ErrLockContention = errors.New("lock held by another worker")

// ErrStaleLock is returned when an existing lock is older than the staleness
// threshold and the LockDir is not allowed to reclaim it.
type ErrStaleLock struct {
	ID    string
	Owner string
	Age   time.Duration
}

func (err *ErrStaleLock) Error() string {
	return fmt.Sprintf("stale lock on %s held by %q for %s", err.ID, err.Owner, err.Age.Round(time.Second))
}

// ItemFailure records a per-item clip failure. The item stays pending.
type ItemFailure struct {
	ID  string
	Err error
}

func (f ItemFailure) Error() string {
	return fmt.Sprintf("item %s: %v", f.ID, f.Err)
}

func (f ItemFailure) Unwrap() error {
	return f.Err
}
