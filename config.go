package wbdclip

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sigs.k8s.io/yaml"
)

// Duration is a time.Duration that marshals as a "1h30m" string
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("invalid duration %s", string(b))
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// RunConfig is the complete configuration of a run. It is written once by the
// planning step and read by every unit, so that units never depend on text
// substituted into a script.
type RunConfig struct {
	// Mosaic is the raster to clip (VRT or GeoTIFF, local or gs://)
	Mosaic string `json:"mosaic"`
	// Mask is the vector dataset holding the watershed polygons
	Mask   string `json:"mask"`
	Layer  string `json:"layer"`
	Column string `json:"column"`
	// IDList optionally replaces the mask query by a list of ids, one per line
	IDList string `json:"idList,omitempty"`

	// Output is a directory or a gs://bucket/prefix url
	Output  string `json:"output"`
	WorkDir string `json:"workDir"`
	TempDir string `json:"tempDir,omitempty"`

	// Engine is "gdalwarp" (subprocess) or "godal" (in-process)
	Engine          string   `json:"engine"`
	Switches        []string `json:"switches,omitempty"`
	CreationOptions []string `json:"creationOptions,omitempty"`
	ConfigOptions   []string `json:"configOptions,omitempty"`

	// Ledger is "fs" or "sqlite"
	Ledger string `json:"ledger"`

	CoresPerUnit int      `json:"coresPerUnit"`
	Target       Duration `json:"target"`
	Margin       Duration `json:"margin"`
	// StaleAfter is the age after which an item lock is considered orphaned.
	// Defaults to the unit time budget plus margin.
	StaleAfter   Duration `json:"staleAfter"`
	ReclaimStale bool     `json:"reclaimStale"`
}

// DefaultRunConfig returns a configuration with all defaults set
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Layer:        "WBDHU12",
		Column:       "huc12",
		Engine:       "gdalwarp",
		Ledger:       "fs",
		CoresPerUnit: 4,
		Target:       Duration(20 * time.Minute),
		Margin:       Duration(10 * time.Minute),
		ReclaimStale: true,
	}
}

// UnitBudget is the time allowed to each unit
func (c RunConfig) UnitBudget() time.Duration {
	return UnitBudget(time.Duration(c.Target), time.Duration(c.Margin))
}

// LockStaleAfter returns the effective lock staleness threshold
func (c RunConfig) LockStaleAfter() time.Duration {
	if c.StaleAfter > 0 {
		return time.Duration(c.StaleAfter)
	}
	return c.UnitBudget() + time.Duration(c.Margin)
}

func (c RunConfig) ChunkDir() string { return filepath.Join(c.WorkDir, "chunks") }
func (c RunConfig) DoneDir() string { return filepath.Join(c.WorkDir, "done") }
func (c RunConfig) LockDir() string { return filepath.Join(c.WorkDir, "locks") }
func (c RunConfig) StatsDir() string { return filepath.Join(c.WorkDir, "stats") }
func (c RunConfig) LogDir() string { return filepath.Join(c.WorkDir, "logs") }
func (c RunConfig) LedgerDB() string { return filepath.Join(c.WorkDir, "ledger.db") }
func (c RunConfig) ConfigFile() string { return filepath.Join(c.WorkDir, "run.yaml") }

// IsGCS reports whether outputs are stored on cloud storage
func (c RunConfig) IsGCS() bool {
	return strings.HasPrefix(c.Output, "gs://")
}

func (c RunConfig) Validate() error {
	if c.Mosaic == "" {
		return fmt.Errorf("missing mosaic")
	}
	if c.Mask == "" {
		return fmt.Errorf("missing mask")
	}
	if c.Column == "" {
		return fmt.Errorf("missing id column")
	}
	if c.Output == "" {
		return fmt.Errorf("missing output")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("missing work dir")
	}
	switch c.Engine {
	case "gdalwarp", "godal":
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	switch c.Ledger {
	case "fs", "sqlite":
	default:
		return fmt.Errorf("unknown ledger %q", c.Ledger)
	}
	if c.CoresPerUnit < 1 {
		return fmt.Errorf("cores per unit must be >=1")
	}
	if c.Target <= 0 {
		return fmt.Errorf("target duration must be >0")
	}
	if c.Margin < 0 || c.StaleAfter < 0 {
		return fmt.Errorf("negative duration")
	}
	return nil
}

// LoadRunConfig reads a yaml run configuration
func LoadRunConfig(file string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	data, err := os.ReadFile(file)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", file, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", file, err)
	}
	return cfg, nil
}

// Save writes the configuration to its ConfigFile
func (c RunConfig) Save() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.WorkDir, 0755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	if err := writeFileAtomic(c.ConfigFile(), data); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return c.ConfigFile(), nil
}
