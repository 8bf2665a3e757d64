package wbdclip

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"go.airbusds-geo.com/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UnitRunner runs one unit of an array to completion
type UnitRunner func(ctx context.Context, index int, command []string) error

// LocalDispatcher runs the units of an array as subprocesses of the current
// machine, at most Ceiling at a time. Dispatch returns once every unit has
// exited. A failed unit is logged and counted; it does not stop the others.
type LocalDispatcher struct {
	Run UnitRunner
}

func (d LocalDispatcher) Dispatch(ctx context.Context, spec ArraySpec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return Handle{}, err
	}
	if spec.LogDir != "" {
		if err := os.MkdirAll(spec.LogDir, 0755); err != nil {
			return Handle{}, fmt.Errorf("create log dir: %w", err)
		}
	}
	run := d.Run
	if run == nil {
		run = execUnit(spec)
	}
	logger := log.Logger(ctx)
	var failed int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(spec.Ceiling)
	for i := 0; i < spec.Units; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			uctx, cancel := context.WithTimeout(gctx, spec.TimeBudget)
			defer cancel()
			if err := run(uctx, i, spec.UnitCommand(strconv.Itoa(i))); err != nil {
				atomic.AddInt64(&failed, 1)
				logger.Warn("unit failed", zap.Int("unit", i), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	h := Handle{Backend: "local", ID: spec.Name, Units: spec.Units, Failed: int(failed)}
	if err := ctx.Err(); err != nil {
		return h, err
	}
	return h, nil
}

func execUnit(spec ArraySpec) UnitRunner {
	return func(ctx context.Context, index int, command []string) error {
		cmd := exec.CommandContext(ctx, command[0], command[1:]...)
		if spec.LogDir == "" {
			cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
			return cmd.Run()
		}
		out, err := os.Create(filepath.Join(spec.LogDir, fmt.Sprintf("%s_%d.log", spec.Name, index)))
		if err != nil {
			return err
		}
		defer out.Close()
		cmd.Stdout, cmd.Stderr = out, out
		return cmd.Run()
	}
}
