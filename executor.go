package wbdclip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tbonfort/gobs"
	"go.airbusds-geo.com/log"
	"go.uber.org/zap"
)

// Outcome is the result of processing a single item
type Outcome int

const (
	// OutcomeSkipped means the item was already done
	OutcomeSkipped Outcome = iota
	// OutcomeContended means another worker holds the item's lock
	OutcomeContended
	// OutcomeStale means the item's lock is orphaned but could not be reclaimed
	OutcomeStale
	OutcomeClipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeContended:
		return "contended"
	case OutcomeStale:
		return "stale"
	case OutcomeClipped:
		return "clipped"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Executor processes the items of a chunk with a bounded number of
// concurrent workers. Items are idempotent: already completed items are
// skipped, and items locked by another worker are left to that worker.
type Executor struct {
	Ledger      Ledger
	Locks       *LockDir
	Clip        ClipTool
	Artifacts   ArtifactStore
	Concurrency int
}

// Report summarises the execution of a chunk
type Report struct {
	Chunk     int
	Total     int
	Skipped   int
	Contended int
	Stale     int
	Clipped   int
	Failed    int
	Failures  []ItemFailure
	// ClipSeconds is the cumulated duration of successful clips
	ClipSeconds float64
	Elapsed     time.Duration
}

func (r *Report) add(id string, o Outcome, d time.Duration, err error) {
	switch o {
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeContended:
		r.Contended++
	case OutcomeStale:
		r.Stale++
	case OutcomeClipped:
		r.Clipped++
		r.ClipSeconds += d.Seconds()
	case OutcomeFailed:
		r.Failed++
		r.Failures = append(r.Failures, ItemFailure{ID: id, Err: err})
	}
}

// Run processes every item of chunk. Per-item failures are reported, not
// returned; an error is only returned if ctx was cancelled before all items
// could be processed.
func (e *Executor) Run(ctx context.Context, chunk Chunk) (Report, error) {
	st := time.Now()
	concurrency := e.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	report := Report{Chunk: chunk.Index, Total: len(chunk.Items)}
	var mu sync.Mutex

	pool := gobs.NewPool(concurrency)
	batch := pool.Batch()
	for _, id := range chunk.Items {
		if ctx.Err() != nil {
			break
		}
		id := id
		batch.Submit(func() error {
			if ctx.Err() != nil {
				return nil
			}
			o, d, err := e.Process(ctx, id)
			mu.Lock()
			report.add(id, o, d, err)
			mu.Unlock()
			return nil
		})
	}
	_ = batch.Wait()
	report.Elapsed = time.Since(st)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("chunk %d interrupted: %w", chunk.Index, err)
	}
	return report, nil
}

// Process runs the complete ledger/lock/clip/publish protocol for a single item
func (e *Executor) Process(ctx context.Context, id string) (Outcome, time.Duration, error) {
	logger := log.Logger(ctx).With(zap.String("id", id))
	if err := ValidateID(id); err != nil {
		return e.fail(logger, err)
	}

	done, err := e.Ledger.IsDone(ctx, id)
	if err != nil {
		return e.fail(logger, fmt.Errorf("check ledger: %w", err))
	}
	if done {
		return OutcomeSkipped, 0, nil
	}

	lk, err := e.Locks.Acquire(id)
	if err != nil {
		var stale *ErrStaleLock
		switch {
		case errors.Is(err, ErrLockContention):
			logger.Debug("locked by another worker")
			return OutcomeContended, 0, nil
		case errors.As(err, &stale):
			logger.Warn("orphaned lock not reclaimed", zap.String("owner", stale.Owner), zap.Duration("age", stale.Age))
			return OutcomeStale, 0, nil
		}
		return e.fail(logger, err)
	}
	defer func() {
		if err := e.Locks.Release(lk); err != nil {
			logger.Warn("release lock", zap.Error(err))
		}
	}()

	// the item may have been completed between the first check and the lock
	if done, err = e.Ledger.IsDone(ctx, id); err != nil {
		return e.fail(logger, fmt.Errorf("check ledger: %w", err))
	} else if done {
		return OutcomeSkipped, 0, nil
	}

	tmp, err := e.Artifacts.TempPath(id, uuid.New().String())
	if err != nil {
		return e.fail(logger, err)
	}
	st := time.Now()
	if err := e.Clip.Clip(ctx, ClipRequest{ID: id, Output: tmp}); err != nil {
		os.Remove(tmp)
		return e.fail(logger, err)
	}
	dur := time.Since(st)
	if err := e.Locks.Held(lk); err != nil {
		os.Remove(tmp)
		logger.Warn("lock lost while clipping, output discarded", zap.Error(err))
		return OutcomeContended, 0, nil
	}
	if err := e.Artifacts.Publish(ctx, id, tmp); err != nil {
		os.Remove(tmp)
		return e.fail(logger, fmt.Errorf("publish: %w", err))
	}
	if err := e.Ledger.MarkDone(ctx, id); err != nil {
		return e.fail(logger, err)
	}
	logger.Debug("clipped", zap.Duration("took", dur))
	return OutcomeClipped, dur, nil
}

func (e *Executor) fail(logger *zap.Logger, err error) (Outcome, time.Duration, error) {
	logger.Warn("item failed, left pending", zap.Error(err))
	return OutcomeFailed, 0, err
}
