package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/airbusgeo/wbdclip"
	"github.com/alessio/shellescape"
	"github.com/spf13/cobra"
	"go.airbusds-geo.com/log"
)

var backend string
var ceiling int
var jobName string
var memPerUnit string
var partition, account string
var dockerImage string
var unitBinary string

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "plan the run and dispatch one unit per chunk",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		logger := log.Logger(ctx).Sugar()
		cfg, err := buildRunConfig()
		if err != nil {
			return err
		}
		if ceiling < 1 {
			return fmt.Errorf("--ceiling must be >=1")
		}
		plan, err := planRun(ctx, cfg, dryRun)
		if err != nil {
			return err
		}

		bin := unitBinary
		if bin == "" {
			if bin, err = os.Executable(); err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
		}
		command := []string{bin, "unit", "--run", cfg.ConfigFile(), "--index", wbdclip.IndexPlaceholder}
		if verbose {
			command = append(command, "--verbose")
		}
		spec := wbdclip.ArraySpec{
			Name:        jobName,
			Units:       len(plan.Chunks),
			Ceiling:     ceiling,
			TimeBudget:  cfg.UnitBudget(),
			CPUsPerUnit: cfg.CoresPerUnit,
			MemPerUnit:  memPerUnit,
			Command:     command,
			LogDir:      cfg.LogDir(),
		}

		var dispatcher wbdclip.Dispatcher
		switch backend {
		case "slurm":
			dispatcher = wbdclip.SlurmDispatcher{
				ScriptDir: filepath.Join(cfg.WorkDir, "scripts"),
				Partition: partition,
				Account:   account,
			}
		case "argo":
			dispatcher = wbdclip.ArgoDispatcher{
				ManifestDir: filepath.Join(cfg.WorkDir, "scripts"),
				Image:       dockerImage,
				Out:         os.Stdout,
				Retries:     3,
			}
		case "local":
			if dryRun {
				for i := 0; i < spec.Units; i++ {
					fmt.Println(shellescape.QuoteCommand(spec.UnitCommand(strconv.Itoa(i))))
				}
				return nil
			}
			dispatcher = wbdclip.LocalDispatcher{}
		default:
			return fmt.Errorf("unknown backend %q", backend)
		}
		if dryRun && backend == "slurm" {
			fmt.Print(dispatcher.(wbdclip.SlurmDispatcher).Script(spec))
			return nil
		}

		h, err := dispatcher.Dispatch(ctx, spec)
		if err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
		logger.Infof("dispatched %d units on %s: %s", h.Units, h.Backend, h.ID)
		if h.Failed > 0 {
			logger.Warnf("%d units failed, see %s", h.Failed, cfg.LogDir())
		}
		return nil
	},
}

func init() {
	addPlanFlags(submitCmd)
	flags := submitCmd.Flags()
	flags.StringVar(&backend, "backend", "slurm", "unit scheduler: slurm, local or argo")
	flags.IntVar(&ceiling, "ceiling", 16, "maximum number of concurrently running units")
	flags.StringVar(&jobName, "jobName", "wbdclip", "array job name")
	flags.StringVar(&memPerUnit, "mem", "", "memory request per unit, e.g. 8G")
	flags.StringVar(&partition, "partition", "", "slurm partition")
	flags.StringVar(&account, "account", "", "slurm account")
	flags.StringVar(&dockerImage, "dockerImage", "", "container image for argo units")
	flags.StringVar(&unitBinary, "binary", "", "wbdclip binary used by units (default: this executable)")
}
