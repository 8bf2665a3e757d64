package main

import (
	"context"
	"fmt"
	"time"

	"github.com/airbusgeo/wbdclip"
	"github.com/spf13/cobra"
	"go.airbusds-geo.com/log"
)

var runCfg = wbdclip.DefaultRunConfig()
var warpSwitches string
var target, margin, staleAfter time.Duration
var noReclaim bool
var chunkSize int
var secondsPerItem float64
var history wbdclip.Throughput
var adaptive bool
var dryRun bool

func addPlanFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&runCfg.Mosaic, "mosaic", "", "raster mosaic to clip (vrt or tif)")
	flags.StringVar(&runCfg.Mask, "mask", "", "vector dataset holding the watershed polygons")
	flags.StringVar(&runCfg.Layer, "layer", runCfg.Layer, "mask layer name")
	flags.StringVar(&runCfg.Column, "column", runCfg.Column, "watershed id column")
	flags.StringVar(&runCfg.IDList, "idList", "", "file of ids to process instead of querying the mask")
	flags.StringVar(&runCfg.Output, "output", "", "output directory or gs://bucket/prefix")
	flags.StringVar(&runCfg.WorkDir, "workdir", "", "shared directory for chunks, ledger, locks and logs")
	flags.StringVar(&runCfg.TempDir, "tmpdir", "", "local temp directory for gs:// outputs")
	flags.StringVar(&runCfg.Engine, "engine", runCfg.Engine, "clip engine: gdalwarp or godal")
	flags.StringVar(&warpSwitches, "switches", "", "extra gdalwarp switches. e.g: \"-r bilinear -dstnodata -9999\"")
	flags.StringArrayVar(&runCfg.CreationOptions, "co", nil, "tif creation options")
	flags.StringArrayVar(&runCfg.ConfigOptions, "config", nil, "gdal configuration options")
	flags.StringVar(&runCfg.Ledger, "ledger", runCfg.Ledger, "completion ledger: fs or sqlite")
	flags.IntVar(&runCfg.CoresPerUnit, "cores", runCfg.CoresPerUnit, "concurrent clips per unit")
	flags.DurationVar(&target, "target", time.Duration(runCfg.Target), "target duration of a unit")
	flags.DurationVar(&margin, "margin", time.Duration(runCfg.Margin), "safety margin added to the unit time budget")
	flags.DurationVar(&staleAfter, "staleAfter", 0, "age after which an item lock is orphaned (default budget+margin)")
	flags.BoolVar(&noReclaim, "noReclaim", false, "report orphaned locks instead of reclaiming them")

	flags.IntVar(&chunkSize, "chunkSize", 0, "fixed number of items per chunk (disables duration budgeting)")
	flags.Float64Var(&secondsPerItem, "secondsPerItem", 17.48, "single core seconds needed per item")
	flags.IntVar(&history.Cores, "historyCores", 0, "cores used by a previous run, to estimate secondsPerItem")
	flags.DurationVar(&history.Elapsed, "historyElapsed", 0, "duration of a previous run")
	flags.IntVar(&history.Items, "historyItems", 0, "items processed by a previous run")
	flags.BoolVar(&adaptive, "adaptive", false, "estimate secondsPerItem from the stats of previous units, if any")
	flags.BoolVar(&dryRun, "dryRun", false, "plan and report without writing or submitting anything")

	cmd.MarkFlagRequired("mosaic")
	cmd.MarkFlagRequired("mask")
	cmd.MarkFlagRequired("output")
	cmd.MarkFlagRequired("workdir")
}

// buildRunConfig completes runCfg from the flags that need conversion
func buildRunConfig() (wbdclip.RunConfig, error) {
	cfg := runCfg
	cfg.Target = wbdclip.Duration(target)
	cfg.Margin = wbdclip.Duration(margin)
	cfg.StaleAfter = wbdclip.Duration(staleAfter)
	cfg.ReclaimStale = !noReclaim
	if warpSwitches != "" {
		sw, err := wbdclip.ParseSwitches(warpSwitches)
		if err != nil {
			return cfg, err
		}
		cfg.Switches = sw
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newPlanner(ctx context.Context, cfg wbdclip.RunConfig) (wbdclip.Planner, error) {
	if chunkSize > 0 {
		return wbdclip.NewPlanner(wbdclip.FixedSize(chunkSize))
	}
	spi := secondsPerItem
	if history.Cores > 0 || history.Elapsed > 0 || history.Items > 0 {
		var err error
		if spi, err = history.SecondsPerItem(); err != nil {
			return wbdclip.Planner{}, err
		}
	}
	if adaptive {
		observed, ok, err := wbdclip.ObservedSecondsPerItem(cfg.StatsDir())
		if err != nil {
			return wbdclip.Planner{}, fmt.Errorf("read unit stats: %w", err)
		}
		if ok {
			log.Logger(ctx).Sugar().Infof("using observed %.2fs/item instead of %.2fs/item", observed, spi)
			spi = observed
		}
	}
	return wbdclip.NewPlanner(wbdclip.Budget(spi, time.Duration(cfg.Target), cfg.CoresPerUnit))
}

// planRun enumerates the work items and partitions them. Unless dry is set,
// the run configuration and the chunk files are written to the work dir.
func planRun(ctx context.Context, cfg wbdclip.RunConfig, dry bool) (wbdclip.Plan, error) {
	logger := log.Logger(ctx).Sugar()
	if err := setupGCS(ctx, cfg); err != nil {
		return wbdclip.Plan{}, err
	}
	ids, err := cfg.Registry(cfg.AttributeQuery()).Enumerate(ctx)
	if err != nil {
		return wbdclip.Plan{}, err
	}
	planner, err := newPlanner(ctx, cfg)
	if err != nil {
		return wbdclip.Plan{}, err
	}
	plan, err := planner.Plan(ids)
	if err != nil {
		return wbdclip.Plan{}, err
	}
	logger.Infof("%d items, %s strategy: %d chunks of up to %d items, unit budget %s",
		plan.Total, plan.Strategy, len(plan.Chunks), plan.ItemsPerChunk, cfg.UnitBudget())
	if dry {
		return plan, nil
	}
	if _, err := cfg.Save(); err != nil {
		return plan, err
	}
	if err := wbdclip.WriteChunks(cfg.ChunkDir(), plan); err != nil {
		return plan, err
	}
	logger.Infof("wrote %s and %d chunk files to %s", cfg.ConfigFile(), len(plan.Chunks), cfg.ChunkDir())
	return plan, nil
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "enumerate watersheds and write chunk files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := buildRunConfig()
		if err != nil {
			return err
		}
		_, err = planRun(cmd.Context(), cfg, dryRun)
		return err
	},
}

func init() {
	addPlanFlags(planCmd)
}
