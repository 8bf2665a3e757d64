package wbdclip

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Throughput is a historical observation: Items were processed in Elapsed
// wall-clock time using Cores concurrent workers.
type Throughput struct {
	Cores   int           `json:"cores"`
	Elapsed time.Duration `json:"elapsed"`
	Items   int           `json:"items"`
}

// SecondsPerItem returns the average single-core processing time of one item
func (t Throughput) SecondsPerItem() (float64, error) {
	if t.Cores < 1 || t.Elapsed <= 0 || t.Items < 1 {
		return 0, ErrPlanning{fmt.Sprintf("invalid throughput %d cores, %s, %d items", t.Cores, t.Elapsed, t.Items)}
	}
	return float64(t.Cores) * t.Elapsed.Seconds() / float64(t.Items), nil
}

// UnitStats is written by every executed unit, and aggregated by
// ObservedSecondsPerItem to refine chunk sizing for subsequent runs.
type UnitStats struct {
	Unit        int       `json:"unit"`
	Owner       string    `json:"owner"`
	Clipped     int       `json:"clipped"`
	Failed      int       `json:"failed"`
	ClipSeconds float64   `json:"clip_seconds"`
	Finished    time.Time `json:"finished"`
}

// WriteUnitStats stores stats under dir
func WriteUnitStats(dir string, st UnitStats) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, fmt.Sprintf("%05d-%s.json", st.Unit, st.Owner)), data)
}

// ObservedSecondsPerItem averages the per-item clip time recorded by previous
// units. ok is false when no item has been clipped yet.
func ObservedSecondsPerItem(dir string) (secs float64, ok bool, err error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, false, err
	}
	var items int
	var total float64
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return 0, false, err
		}
		var st UnitStats
		if err := json.Unmarshal(data, &st); err != nil {
			return 0, false, fmt.Errorf("parse %s: %w", f, err)
		}
		items += st.Clipped
		total += st.ClipSeconds
	}
	if items == 0 || total <= 0 {
		return 0, false, nil
	}
	return total / float64(items), true, nil
}
