package wbdclip

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreationOptions(t *testing.T) {
	assert.Equal(t, []string{"BIGTIFF=IF_SAFER", "COMPRESS=DEFLATE", "TILED=YES"}, CreationOptions(nil))
	assert.Equal(t, []string{"BIGTIFF=IF_SAFER", "BLOCKXSIZE=512", "COMPRESS=ZSTD", "TILED=YES"},
		CreationOptions([]string{"compress=ZSTD", "BLOCKXSIZE=512"}))
	assert.Equal(t, []string{"COMPRESS=DEFLATE", "TILED=YES"}, CreationOptions([]string{"BIGTIFF="}))
}

func TestParseSwitches(t *testing.T) {
	sw, err := ParseSwitches(`-r bilinear -dstnodata "-9999" -te_srs 'EPSG:4326'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"-r", "bilinear", "-dstnodata", "-9999", "-te_srs", "EPSG:4326"}, sw)

	sw, err = ParseSwitches("")
	require.NoError(t, err)
	assert.Empty(t, sw)

	for _, bad := range []string{"-cutline other.shp", "-r near -crop_to_cutline", "-of COG", "-co COMPRESS=LZW", "--config GDAL_CACHEMAX 512"} {
		_, err := ParseSwitches(bad)
		assert.Error(t, err, bad)
	}
	_, err = ParseSwitches(`-r "bilinear`)
	assert.Error(t, err)
}

func TestCutlineWhere(t *testing.T) {
	assert.Equal(t, `"huc12" = '010100020101'`, CutlineWhere("huc12", "010100020101"))
	assert.Equal(t, `"name" = 'O''Brien'`, CutlineWhere("name", "O'Brien"))
}

func TestGDALWarpArgs(t *testing.T) {
	g := GDALWarp{
		Mosaic:          "/data/dem.vrt",
		Cutline:         Cutline{Dataset: "/data/wbd.gpkg", Layer: "WBDHU12", Column: "huc12"},
		Switches:        []string{"-r", "bilinear"},
		CreationOptions: []string{"COMPRESS=ZSTD"},
		ConfigOptions:   []string{"GDAL_CACHEMAX=512"},
	}
	req := ClipRequest{ID: "010100020101", Output: "/out/.tmp/010100020101.x.tif"}
	assert.Equal(t, []string{
		"-overwrite", "-of", "GTiff",
		"-cutline", "/data/wbd.gpkg", "-cl", "WBDHU12", "-cwhere", `"huc12" = '010100020101'`, "-crop_to_cutline",
		"-co", "BIGTIFF=IF_SAFER", "-co", "COMPRESS=ZSTD", "-co", "TILED=YES",
		"--config", "GDAL_CACHEMAX", "512",
		"-r", "bilinear",
		"/data/dem.vrt", "/out/.tmp/010100020101.x.tif",
	}, g.Args(req))

	var gotName string
	var gotArgs []string
	g.Run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return nil, nil
	}
	require.NoError(t, g.Clip(context.Background(), req))
	assert.Equal(t, "gdalwarp", gotName)
	assert.Equal(t, g.Args(req), gotArgs)

	g.Run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, &ExitError{Command: "gdalwarp", Stderr: "ERROR 1: Cannot compute bounding box of cutline.", Err: errors.New("exit status 1")}
	}
	err := g.Clip(context.Background(), req)
	require.Error(t, err)
	var xerr *ExitError
	assert.True(t, errors.As(err, &xerr))
	assert.Contains(t, err.Error(), "010100020101")
}
