package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/airbusgeo/wbdclip"
	"github.com/spf13/cobra"
	"go.airbusds-geo.com/log"
	"go.uber.org/zap"
)

var runFile string
var unitIndex int

var unitCmd = &cobra.Command{
	Use:   "unit",
	Short: "process the chunk of one array unit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, err := wbdclip.LoadRunConfig(runFile)
		if err != nil {
			return err
		}
		index := unitIndex
		if index < 0 {
			tid, ok := os.LookupEnv("SLURM_ARRAY_TASK_ID")
			if !ok {
				return fmt.Errorf("--index not set and not running in a slurm array")
			}
			if index, err = strconv.Atoi(tid); err != nil {
				return fmt.Errorf("invalid SLURM_ARRAY_TASK_ID %q", tid)
			}
		}
		store, err := artifactStore(ctx, cfg)
		if err != nil {
			return err
		}
		owner := ownerID()
		comp, err := cfg.NewComponents(owner, store)
		if err != nil {
			return err
		}
		if comp.Closer != nil {
			defer comp.Closer.Close()
		}

		logger := log.Logger(ctx)
		report, err := wbdclip.RunUnit(ctx, cfg, index, owner, comp)
		logger.Info("unit finished",
			zap.Int("unit", index),
			zap.String("owner", owner),
			zap.Int("items", report.Total),
			zap.Int("clipped", report.Clipped),
			zap.Int("skipped", report.Skipped),
			zap.Int("contended", report.Contended),
			zap.Int("stale", report.Stale),
			zap.Int("failed", report.Failed),
			zap.Duration("elapsed", report.Elapsed))
		for _, f := range report.Failures {
			logger.Warn("pending after failure", zap.String("id", f.ID), zap.Error(f.Err))
		}
		return err
	},
}

func init() {
	unitCmd.Flags().StringVar(&runFile, "run", "", "run configuration written by plan/submit")
	unitCmd.Flags().IntVar(&unitIndex, "index", -1, "unit index (default: $SLURM_ARRAY_TASK_ID)")
	unitCmd.MarkFlagRequired("run")
}
