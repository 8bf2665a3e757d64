package main

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"
	"github.com/airbusgeo/wbdclip"
	adst "go.airbusds-geo.com/gcp/storage"
)

var blocksize string
var numCachedBlocks int

var stcl *storage.Client
var adstcl *adst.Client

func usesGCS(cfg wbdclip.RunConfig) bool {
	return cfg.IsGCS() || strings.HasPrefix(cfg.Mosaic, "gs://") || strings.HasPrefix(cfg.Mask, "gs://")
}

// setupGCS creates the cloud storage clients, and registers gs:// as a gdal
// virtual filesystem for in-process reads
func setupGCS(ctx context.Context, cfg wbdclip.RunConfig) error {
	if stcl != nil || !usesGCS(cfg) {
		return nil
	}
	var err error
	if stcl, err = storage.NewClient(ctx); err != nil {
		return fmt.Errorf("storage.newclient: %w", err)
	}
	if adstcl, err = adst.New(ctx, adst.WithStorageClient(stcl)); err != nil {
		return fmt.Errorf("ads storage.new: %w", err)
	}
	gcsh, err := gcs.Handle(ctx, gcs.GCSClient(stcl))
	if err != nil {
		return fmt.Errorf("gcs.handle: %w", err)
	}
	gcsa, err := osio.NewAdapter(gcsh, osio.BlockSize(blocksize), osio.NumCachedBlocks(numCachedBlocks))
	if err != nil {
		return fmt.Errorf("osio.new: %w", err)
	}
	if err := godal.RegisterVSIHandler("gs://", gcsa); err != nil {
		return fmt.Errorf("register osio: %w", err)
	}
	return nil
}

func artifactStore(ctx context.Context, cfg wbdclip.RunConfig) (wbdclip.ArtifactStore, error) {
	if err := setupGCS(ctx, cfg); err != nil {
		return nil, err
	}
	if cfg.IsGCS() {
		return wbdclip.GCSStore{
			URL:     cfg.Output,
			TempDir: cfg.TempDir,
			Objects: wbdclip.GCSObjects{Client: stcl, Uploader: adstcl},
		}, nil
	}
	return wbdclip.DirStore{Dir: cfg.Output}, nil
}
