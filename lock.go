package wbdclip

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// LockRecord is the content of a lock file
type LockRecord struct {
	Owner      string    `json:"owner"`
	Host       string    `json:"host"`
	PID        int       `json:"pid"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// LockDir hands out exclusive, advisory, per-item locks backed by files
// created with O_EXCL. Locks never block: acquisition either succeeds or
// fails immediately.
//
// A lock older than StaleAfter is considered orphaned by a dead worker. It is
// reclaimed when Reclaim is set, otherwise Acquire returns an *ErrStaleLock.
// A zero StaleAfter disables staleness detection.
type LockDir struct {
	Dir        string
	Owner      string
	StaleAfter time.Duration
	Reclaim    bool

	now func() time.Time
}

// A Lock is held on a single item until released
type Lock struct {
	ID    string
	path  string
	token string
}

func NewLockDir(dir, owner string, staleAfter time.Duration, reclaim bool) (*LockDir, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &LockDir{Dir: dir, Owner: owner, StaleAfter: staleAfter, Reclaim: reclaim, now: time.Now}, nil
}

func (l *LockDir) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}

func (l *LockDir) path(id string) string {
	return filepath.Join(l.Dir, id+".lock")
}

// Acquire takes the lock on id. It returns ErrLockContention if a live lock is
// held by someone else.
func (l *LockDir) Acquire(id string) (*Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		lk, err := l.create(id)
		if err == nil {
			return lk, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", id, err)
		}
		rec, age, err := l.inspect(id)
		if errors.Is(err, fs.ErrNotExist) {
			// released in the meantime
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inspect lock %s: %w", id, err)
		}
		if l.StaleAfter <= 0 || age <= l.StaleAfter {
			return nil, ErrLockContention
		}
		if !l.Reclaim || attempt > 0 {
			return nil, &ErrStaleLock{ID: id, Owner: rec.Owner, Age: age}
		}
		if err := l.reclaim(id, rec); err != nil {
			return nil, err
		}
	}
	return nil, ErrLockContention
}

func (l *LockDir) create(id string) (*Lock, error) {
	p := l.path(id)
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	rec := LockRecord{
		Owner:      l.Owner,
		Host:       host,
		PID:        os.Getpid(),
		Token:      uuid.New().String(),
		AcquiredAt: l.clock().UTC(),
	}
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		f.Close()
		os.Remove(p)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return nil, err
	}
	return &Lock{ID: id, path: p, token: rec.Token}, nil
}

// inspect returns the lock record and its age. A record that cannot be parsed
// (e.g. being written) is aged from the file modification time.
func (l *LockDir) inspect(id string) (LockRecord, time.Duration, error) {
	p := l.path(id)
	rec, err := readLockRecord(p)
	if err == nil && !rec.AcquiredAt.IsZero() {
		return rec, l.clock().Sub(rec.AcquiredAt), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return rec, 0, err
	}
	st, err := os.Stat(p)
	if err != nil {
		return rec, 0, err
	}
	return rec, l.clock().Sub(st.ModTime()), nil
}

func readLockRecord(p string) (LockRecord, error) {
	var rec LockRecord
	data, err := os.ReadFile(p)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parse lock %s: %w", p, err)
	}
	return rec, nil
}

// reclaim atomically moves a stale lock out of the way. If the lock that was
// moved is not the one that was judged stale, it is put back and the item is
// reported as contended.
func (l *LockDir) reclaim(id string, stale LockRecord) error {
	p := l.path(id)
	tomb := p + ".stale-" + uuid.New().String()
	if err := os.Rename(p, tomb); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reclaim lock %s: %w", id, err)
	}
	moved, err := readLockRecord(tomb)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		// unparsable records are compared by their (empty) token
		err = nil
	}
	if err != nil || moved.Token != stale.Token {
		// a fresh lock was taken since inspection; best effort restore. If yet
		// another worker created the lock in between, the restore fails and
		// the owner of the moved lock finds out through Held before publishing.
		_ = os.Link(tomb, p)
		os.Remove(tomb)
		return ErrLockContention
	}
	return os.Remove(tomb)
}

// Held returns an error if lk is no longer the lock on its item, i.e. it was
// reclaimed or removed by another worker
func (l *LockDir) Held(lk *Lock) error {
	rec, err := readLockRecord(lk.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("lock %s lost", lk.ID)
	}
	if err != nil {
		return err
	}
	if rec.Token != lk.token {
		return fmt.Errorf("lock %s reclaimed by %s", lk.ID, rec.Owner)
	}
	return nil
}

// Release removes the lock if it is still owned by the caller
func (l *LockDir) Release(lk *Lock) error {
	if err := l.Held(lk); err != nil {
		return err
	}
	return os.Remove(lk.path)
}
