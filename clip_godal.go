package wbdclip

import (
	"context"
	"fmt"

	"github.com/airbusgeo/godal"
)

// GodalWarp clips in-process through godal. godal.RegisterAll must have been
// called, along with any VSI handler needed to read the mosaic or mask.
type GodalWarp struct {
	Mosaic          string
	Cutline         Cutline
	Switches        []string
	CreationOptions []string
	ConfigOptions   []string
}

func (g GodalWarp) Clip(ctx context.Context, req ClipRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srcDataset, err := godal.Open(g.Mosaic, godal.RasterOnly())
	if err != nil {
		return fmt.Errorf("open %s: %w", g.Mosaic, err)
	}
	defer srcDataset.Close()

	switches := append(g.Cutline.switches(req.ID), g.Switches...)
	dstDS, err := srcDataset.Warp(req.Output, switches,
		godal.CreationOption(CreationOptions(g.CreationOptions)...),
		godal.ConfigOption(g.ConfigOptions...),
		godal.GTiff)
	if err != nil {
		return fmt.Errorf("clip %s: %w", req.ID, err)
	}
	if err = dstDS.Close(); err != nil {
		return fmt.Errorf("close %s: %w", req.Output, err)
	}
	return nil
}
