package wbdclip

import (
	"context"
	"fmt"
	"sort"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// ClipRequest asks for the raster of work item ID to be written to Output
type ClipRequest struct {
	ID     string
	Output string
}

// A ClipTool crops the mosaic to the single mask polygon matching an item. It
// either writes a complete raster to the requested output or fails.
type ClipTool interface {
	Clip(ctx context.Context, req ClipRequest) error
}

// DefaultCreationOptions are the GeoTIFF creation options of clipped outputs
var DefaultCreationOptions = map[string]string{
	"TILED":    "YES",
	"COMPRESS": "DEFLATE",
	"BIGTIFF":  "IF_SAFER",
}

// CreationOptions merges KEY=VALUE overrides into the defaults. An override
// with an empty value removes the key.
func CreationOptions(overrides []string) []string {
	merged := make(map[string]string, len(DefaultCreationOptions))
	for k, v := range DefaultCreationOptions {
		merged[k] = v
	}
	for _, co := range overrides {
		k, v, _ := strings.Cut(co, "=")
		k = strings.ToUpper(strings.TrimSpace(k))
		if v == "" {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}
	copts := make([]string, 0, len(merged))
	for k, v := range merged {
		copts = append(copts, k+"="+v)
	}
	sort.Strings(copts)
	return copts
}

// ParseSwitches splits a user supplied switch string, rejecting the switches
// that are controlled by the clip itself
func ParseSwitches(sw string) ([]string, error) {
	switches, err := shellwords.Parse(sw)
	if err != nil {
		return nil, fmt.Errorf("invalid switches %q: %w", sw, err)
	}
	for _, s := range switches {
		switch s {
		case "-cutline", "-cwhere", "-cl", "-csql", "-crop_to_cutline", "-of", "-overwrite", "-co", "--config":
			return nil, fmt.Errorf("%s switch not allowed", s)
		}
	}
	return switches, nil
}

// CutlineWhere returns the attribute filter selecting the polygon of id
func CutlineWhere(column, id string) string {
	return fmt.Sprintf("%s = '%s'", quoteIdent(column), strings.ReplaceAll(id, "'", "''"))
}

// Cutline describes the vector mask used to crop the mosaic
type Cutline struct {
	Dataset string
	Layer   string
	Column  string
}

func (c Cutline) switches(id string) []string {
	sw := []string{"-cutline", c.Dataset}
	if c.Layer != "" {
		sw = append(sw, "-cl", c.Layer)
	}
	return append(sw, "-cwhere", CutlineWhere(c.Column, id), "-crop_to_cutline")
}

// GDALWarp clips by running the gdalwarp binary
type GDALWarp struct {
	Mosaic  string
	Cutline Cutline
	// Switches are extra gdalwarp switches, e.g. resampling or nodata
	Switches        []string
	CreationOptions []string
	// ConfigOptions are KEY=VALUE gdal configuration options
	ConfigOptions []string
	// Binary defaults to "gdalwarp"
	Binary string
	Run    Runner
}

// Args returns the gdalwarp arguments for req
func (g GDALWarp) Args(req ClipRequest) []string {
	args := []string{"-overwrite", "-of", "GTiff"}
	args = append(args, g.Cutline.switches(req.ID)...)
	for _, co := range CreationOptions(g.CreationOptions) {
		args = append(args, "-co", co)
	}
	for _, cfg := range g.ConfigOptions {
		k, v, _ := strings.Cut(cfg, "=")
		args = append(args, "--config", k, v)
	}
	args = append(args, g.Switches...)
	return append(args, g.Mosaic, req.Output)
}

func (g GDALWarp) Clip(ctx context.Context, req ClipRequest) error {
	bin := g.Binary
	if bin == "" {
		bin = "gdalwarp"
	}
	run := g.Run
	if run == nil {
		run = runCommand
	}
	if _, err := run(ctx, bin, g.Args(req)...); err != nil {
		return fmt.Errorf("clip %s: %w", req.ID, err)
	}
	return nil
}
