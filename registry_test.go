package wbdclip

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuery struct {
	values []string
	err    error
}

func (q fakeQuery) Values(context.Context, string, string) ([]string, error) {
	return q.values, q.err
}

func TestEnumerate(t *testing.T) {
	r := Registry{Query: fakeQuery{values: []string{"020", " 010", "", "020", "030 "}}, Layer: "WBDHU12", Column: "huc12"}
	items, err := r.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"010", "020", "030"}, items)
}

func TestEnumerateErrors(t *testing.T) {
	var eerr ErrEnumeration
	for _, q := range []fakeQuery{
		{},
		{values: []string{"", "  "}},
		{err: errors.New("unreachable")},
	} {
		_, err := Registry{Query: q, Layer: "l", Column: "c"}.Enumerate(context.Background())
		require.Error(t, err)
		assert.True(t, errors.As(err, &eerr))
		assert.Equal(t, "l.c", eerr.Source)
	}
}

func TestOGRQuery(t *testing.T) {
	var gotArgs []string
	q := OGRQuery{
		Dataset: "wbd.gpkg",
		Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			assert.Equal(t, "ogr2ogr", name)
			gotArgs = args
			return []byte("huc12\n010100020101\n\"010100020102\"\n"), nil
		},
	}
	values, err := q.Values(context.Background(), "WBDHU12", "huc12")
	require.NoError(t, err)
	assert.Equal(t, []string{"010100020101", "010100020102"}, values)
	assert.Equal(t, []string{"-f", "CSV", "/vsistdout/", "wbd.gpkg", "-sql", `SELECT DISTINCT "huc12" FROM "WBDHU12"`}, gotArgs)

	q.Run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("name\nfoo\n"), nil
	}
	_, err = q.Values(context.Background(), "WBDHU12", "huc12")
	assert.Error(t, err)

	q.Run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, &ExitError{Command: "ogr2ogr", Stderr: "ERROR 4: wbd.gpkg: No such file", Err: errors.New("exit status 1")}
	}
	_, err = Registry{Query: q, Layer: "WBDHU12", Column: "huc12"}.Enumerate(context.Background())
	var eerr ErrEnumeration
	require.True(t, errors.As(err, &eerr))
	assert.Contains(t, err.Error(), "No such file")
}

func TestListQuery(t *testing.T) {
	f := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(f, []byte("b\n\na\r\n"), 0644))
	items, err := Registry{Query: ListQuery{File: f}}.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
}

func TestEnumerateRejectsUnsafeIDs(t *testing.T) {
	for _, bad := range []string{"../escaped", "a/b", `a\b`, "..", ".", "a\x00b"} {
		_, err := Registry{Query: fakeQuery{values: []string{"010", bad}}, Layer: "l", Column: "c"}.Enumerate(context.Background())
		var eerr ErrEnumeration
		assert.True(t, errors.As(err, &eerr), "%q", bad)
	}
	assert.NoError(t, ValidateID("010100020101"))
	assert.NoError(t, ValidateID("HUC.12-a_b"))
}
