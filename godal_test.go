package wbdclip

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	godal.RegisterAll()
}

const testMask = `{
"type": "FeatureCollection",
"name": "WBDHU12",
"features": [
{ "type": "Feature", "properties": { "huc12": "b", "area": 32 }, "geometry": { "type": "Polygon", "coordinates": [ [ [10, 10], [18, 10], [18, 14], [10, 14], [10, 10] ] ] } },
{ "type": "Feature", "properties": { "huc12": "a", "area": 16 }, "geometry": { "type": "Polygon", "coordinates": [ [ [2, 2], [6, 2], [6, 6], [2, 6], [2, 2] ] ] } },
{ "type": "Feature", "properties": { "huc12": "a", "area": 16 }, "geometry": { "type": "Polygon", "coordinates": [ [ [2, 2], [6, 2], [6, 6], [2, 6], [2, 2] ] ] } }
]
}`

// testMosaic creates a 20x20 raster covering [0,20]x[0,20] along with a mask
// holding 4x4 and 8x4 polygons inside it
func testMosaic(t *testing.T) (mosaic, mask string) {
	t.Helper()
	dir := t.TempDir()
	mask = filepath.Join(dir, "WBDHU12.geojson")
	require.NoError(t, os.WriteFile(mask, []byte(testMask), 0644))

	mosaic = filepath.Join(dir, "mosaic.tif")
	ds, err := godal.Create(godal.GTiff, mosaic, 1, godal.Byte, 20, 20)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform([6]float64{0, 1, 0, 20, 0, -1}))
	require.NoError(t, ds.Bands()[0].Fill(7, 0))
	require.NoError(t, ds.Close())
	return mosaic, mask
}

func TestGodalQuery(t *testing.T) {
	_, mask := testMosaic(t)
	q := GodalQuery{Dataset: mask}

	values, err := q.Values(context.Background(), "WBDHU12", "huc12")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "a", "a"}, values)

	items, err := Registry{Query: q, Layer: "WBDHU12", Column: "huc12"}.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)

	_, err = q.Values(context.Background(), "WBDHU10", "huc12")
	assert.Error(t, err)
	_, err = q.Values(context.Background(), "WBDHU12", "huc10")
	assert.Error(t, err)
	_, err = GodalQuery{Dataset: filepath.Join(t.TempDir(), "missing.gpkg")}.Values(context.Background(), "WBDHU12", "huc12")
	assert.Error(t, err)
}

func TestGodalWarp(t *testing.T) {
	mosaic, mask := testMosaic(t)
	g := GodalWarp{
		Mosaic:  mosaic,
		Cutline: Cutline{Dataset: mask, Layer: "WBDHU12", Column: "huc12"},
	}
	out := filepath.Join(t.TempDir(), "b.tif")
	require.NoError(t, g.Clip(context.Background(), ClipRequest{ID: "b", Output: out}))

	ds, err := godal.Open(out)
	require.NoError(t, err)
	st := ds.Structure()
	assert.Equal(t, 8, st.SizeX)
	assert.Equal(t, 4, st.SizeY)
	require.NoError(t, ds.Close())
	assert.NoError(t, ValidateGeoTIFF(out))

	g.Mosaic = filepath.Join(t.TempDir(), "missing.vrt")
	assert.Error(t, g.Clip(context.Background(), ClipRequest{ID: "b", Output: out}))
}

func TestGodalExecutor(t *testing.T) {
	ctx := context.Background()
	mosaic, mask := testMosaic(t)
	dir := t.TempDir()
	store := DirStore{Dir: filepath.Join(dir, "out")}
	require.NoError(t, os.MkdirAll(store.Dir, 0755))
	ledger, err := NewFSLedger(filepath.Join(dir, "done"), store)
	require.NoError(t, err)
	locks, err := NewLockDir(filepath.Join(dir, "locks"), "w", time.Hour, true)
	require.NoError(t, err)
	e := &Executor{
		Ledger:      ledger,
		Locks:       locks,
		Clip:        GodalWarp{Mosaic: mosaic, Cutline: Cutline{Dataset: mask, Layer: "WBDHU12", Column: "huc12"}},
		Artifacts:   store,
		Concurrency: 2,
	}
	report, err := e.Run(ctx, Chunk{Items: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Clipped, "%v", report.Failures)

	pending, err := ledger.PendingOf(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, pending)
}
