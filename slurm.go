package wbdclip

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
)

// SlurmDispatcher submits an array as a single sbatch job array
type SlurmDispatcher struct {
	// ScriptDir receives the generated batch script
	ScriptDir string
	Partition string
	Account   string
	// Binary defaults to "sbatch"
	Binary string
	Run    Runner
}

// Script renders the sbatch script of spec
func (d SlurmDispatcher) Script(spec ArraySpec) string {
	sb := strings.Builder{}
	sb.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&sb, "#SBATCH --job-name=%s\n", spec.Name)
	fmt.Fprintf(&sb, "#SBATCH --array=0-%d%%%d\n", spec.Units-1, spec.Ceiling)
	fmt.Fprintf(&sb, "#SBATCH --time=%s\n", slurmDuration(spec.TimeBudget))
	sb.WriteString("#SBATCH --ntasks=1\n")
	if spec.CPUsPerUnit > 0 {
		fmt.Fprintf(&sb, "#SBATCH --cpus-per-task=%d\n", spec.CPUsPerUnit)
	}
	if spec.MemPerUnit != "" {
		fmt.Fprintf(&sb, "#SBATCH --mem=%s\n", spec.MemPerUnit)
	}
	if d.Partition != "" {
		fmt.Fprintf(&sb, "#SBATCH --partition=%s\n", d.Partition)
	}
	if d.Account != "" {
		fmt.Fprintf(&sb, "#SBATCH --account=%s\n", d.Account)
	}
	if spec.LogDir != "" {
		fmt.Fprintf(&sb, "#SBATCH --output=%s\n", filepath.Join(spec.LogDir, "%x_%A_%a.out"))
		fmt.Fprintf(&sb, "#SBATCH --error=%s\n", filepath.Join(spec.LogDir, "%x_%A_%a.err"))
	}
	sb.WriteString("set -euo pipefail\n\n")
	cmd := spec.UnitCommand("__SLURM_INDEX__")
	line := shellescape.QuoteCommand(cmd)
	line = strings.ReplaceAll(line, "__SLURM_INDEX__", `"${SLURM_ARRAY_TASK_ID}"`)
	sb.WriteString("exec " + line + "\n")
	return sb.String()
}

func (d SlurmDispatcher) Dispatch(ctx context.Context, spec ArraySpec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return Handle{}, err
	}
	if err := os.MkdirAll(d.ScriptDir, 0755); err != nil {
		return Handle{}, fmt.Errorf("create script dir: %w", err)
	}
	if spec.LogDir != "" {
		if err := os.MkdirAll(spec.LogDir, 0755); err != nil {
			return Handle{}, fmt.Errorf("create log dir: %w", err)
		}
	}
	script := filepath.Join(d.ScriptDir, spec.Name+".sbatch")
	if err := writeFileAtomic(script, []byte(d.Script(spec))); err != nil {
		return Handle{}, fmt.Errorf("write %s: %w", script, err)
	}
	h := Handle{Backend: "slurm", ID: script, Units: spec.Units}
	bin := d.Binary
	if bin == "" {
		bin = "sbatch"
	}
	run := d.Run
	if run == nil {
		run = runCommand
	}
	out, err := run(ctx, bin, "--parsable", script)
	if err != nil {
		return h, fmt.Errorf("submit %s: %w", script, err)
	}
	// --parsable prints "jobid[;cluster]"
	id, _, _ := strings.Cut(strings.TrimSpace(string(out)), ";")
	if id == "" {
		return h, fmt.Errorf("submit %s: no job id returned", script)
	}
	h.ID = id
	return h, nil
}
