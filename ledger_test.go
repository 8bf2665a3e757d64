package wbdclip

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, store DirStore, id, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(store.Dir, 0755))
	require.NoError(t, os.WriteFile(store.Location(id), []byte(content), 0644))
}

func testLedger(t *testing.T, l Ledger, store DirStore) {
	t.Helper()
	ctx := context.Background()

	done, err := l.IsDone(ctx, "A")
	require.NoError(t, err)
	assert.False(t, done)

	// a marker without artifact is not done
	require.NoError(t, l.MarkDone(ctx, "A"))
	done, _ = l.IsDone(ctx, "A")
	assert.False(t, done)

	writeArtifact(t, store, "A", "raster")
	done, _ = l.IsDone(ctx, "A")
	assert.True(t, done)

	// an artifact without marker is not done either
	writeArtifact(t, store, "B", "raster")
	done, _ = l.IsDone(ctx, "B")
	assert.False(t, done)

	// truncated artifact
	writeArtifact(t, store, "A", "")
	done, _ = l.IsDone(ctx, "A")
	assert.False(t, done)
	writeArtifact(t, store, "A", "raster")

	// idempotent, concurrent marking
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.MarkDone(ctx, "A"))
			assert.NoError(t, l.MarkDone(ctx, "B"))
		}()
	}
	wg.Wait()

	pending, err := l.PendingOf(ctx, []string{"C", "A", "D", "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "D"}, pending)

	st, err := CheckStatus(ctx, l, []string{"A", "B", "C", "D", "E"})
	require.NoError(t, err)
	assert.Equal(t, 5, st.Expected)
	assert.Equal(t, 2, st.Produced)
	assert.Equal(t, 3, st.Deficit())
	assert.Equal(t, []string{"C", "D", "E"}, st.Pending)
}

func TestFSLedger(t *testing.T) {
	dir := t.TempDir()
	store := DirStore{Dir: filepath.Join(dir, "out"), Validate: ValidateNonEmpty}
	l, err := NewFSLedger(filepath.Join(dir, "done"), store)
	require.NoError(t, err)
	testLedger(t, l, store)

	markers, _ := filepath.Glob(filepath.Join(dir, "done", "*"))
	assert.Len(t, markers, 2, "no temporary marker files left behind")
}

func TestSQLiteLedger(t *testing.T) {
	dir := t.TempDir()
	store := DirStore{Dir: filepath.Join(dir, "out"), Validate: ValidateNonEmpty}
	l, err := OpenSQLiteLedger(filepath.Join(dir, "ledger.db"), "test", store)
	require.NoError(t, err)
	defer l.Close()
	testLedger(t, l, store)

	var n int
	require.NoError(t, l.db.QueryRow(`SELECT COUNT(*) FROM done`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestDirStorePublish(t *testing.T) {
	ctx := context.Background()
	store := DirStore{Dir: t.TempDir(), Validate: ValidateNonEmpty}

	tmp, err := store.TempPath("A", "attempt1")
	require.NoError(t, err)
	other, _ := store.TempPath("A", "attempt2")
	assert.NotEqual(t, tmp, other)

	require.NoError(t, os.WriteFile(tmp, nil, 0644))
	assert.Error(t, store.Publish(ctx, "A", tmp), "empty outputs are not published")
	ok, _ := store.Verify(ctx, "A")
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(tmp, []byte("raster"), 0644))
	require.NoError(t, store.Publish(ctx, "A", tmp))
	ok, err = store.Verify(ctx, "A")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))
}
