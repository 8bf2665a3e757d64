package wbdclip

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// A Ledger records which work items are complete. It is shared by every unit
// of a run, possibly on different machines, and is safe for concurrent use.
type Ledger interface {
	// IsDone is true iff a completion marker exists for id and its artifact
	// is present and valid
	IsDone(ctx context.Context, id string) (bool, error)
	// MarkDone atomically records completion of id. It is idempotent.
	MarkDone(ctx context.Context, id string) error
	// PendingOf filters ids down to those that are not done, preserving order
	PendingOf(ctx context.Context, ids []string) ([]string, error)
}

func pendingOf(ctx context.Context, l Ledger, ids []string) ([]string, error) {
	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done, err := l.IsDone(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", id, err)
		}
		if !done {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

// FSLedger keeps one marker file per completed item under Dir
type FSLedger struct {
	Dir       string
	Artifacts ArtifactStore
}

func NewFSLedger(dir string, artifacts ArtifactStore) (*FSLedger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &FSLedger{Dir: dir, Artifacts: artifacts}, nil
}

func (l *FSLedger) marker(id string) string {
	return filepath.Join(l.Dir, id+".done")
}

func (l *FSLedger) IsDone(ctx context.Context, id string) (bool, error) {
	_, err := os.Stat(l.marker(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return l.Artifacts.Verify(ctx, id)
}

func (l *FSLedger) PendingOf(ctx context.Context, ids []string) ([]string, error) {
	return pendingOf(ctx, l, ids)
}

func (l *FSLedger) MarkDone(_ context.Context, id string) error {
	stamp := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
	if err := writeFileAtomic(l.marker(id), stamp); err != nil {
		return fmt.Errorf("mark %s done: %w", id, err)
	}
	return nil
}
