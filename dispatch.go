package wbdclip

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IndexPlaceholder is replaced in ArraySpec.Command by the array index of
// each unit
const IndexPlaceholder = "{{index}}"

// ArraySpec describes an array of independent units. Each unit runs Command
// once, with IndexPlaceholder substituted by its index in [0,Units).
type ArraySpec struct {
	Name        string
	Units       int
	Ceiling     int
	TimeBudget  time.Duration
	CPUsPerUnit int
	// MemPerUnit is a scheduler memory request, e.g. "8G". Empty for no request.
	MemPerUnit string
	Command    []string
	LogDir     string
}

func (s ArraySpec) Validate() error {
	if s.Units < 1 {
		return fmt.Errorf("array has no units")
	}
	if s.Ceiling < 1 {
		return fmt.Errorf("concurrency ceiling must be >=1")
	}
	if s.TimeBudget <= 0 {
		return fmt.Errorf("time budget must be >0")
	}
	if len(s.Command) == 0 {
		return fmt.Errorf("empty unit command")
	}
	return nil
}

// UnitCommand returns the command of unit index, substituting placeholder by index
func (s ArraySpec) UnitCommand(placeholder string) []string {
	cmd := make([]string, len(s.Command))
	for i, c := range s.Command {
		cmd[i] = strings.ReplaceAll(c, IndexPlaceholder, placeholder)
	}
	return cmd
}

// A Handle identifies a submitted array
type Handle struct {
	Backend string
	ID      string
	Units   int
	// Failed is the number of units known to have failed, for synchronous backends
	Failed int
}

// A Dispatcher schedules the units of an array, honoring its concurrency
// ceiling. It does not run chunk logic itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, spec ArraySpec) (Handle, error)
}

// UnitBudget is the time allowed to a unit processing a chunk planned for target
func UnitBudget(target, margin time.Duration) time.Duration {
	return target + margin
}

// slurmDuration formats d as a slurm [days-]hours:minutes:seconds time limit,
// rounded up to the minute
func slurmDuration(d time.Duration) string {
	mins := int((d + time.Minute - 1) / time.Minute)
	days := mins / (24 * 60)
	mins -= days * 24 * 60
	hm := fmt.Sprintf("%02d:%02d:00", mins/60, mins%60)
	if days > 0 {
		return strconv.Itoa(days) + "-" + hm
	}
	return hm
}
