package wbdclip

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Components are the ledger, locks, clip tool and artifact store of a unit
type Components struct {
	Ledger    Ledger
	Locks     *LockDir
	Clip      ClipTool
	Artifacts ArtifactStore
	// Closer releases the ledger resources, may be nil
	Closer io.Closer
}

// Registry returns the work item registry described by c
func (c RunConfig) Registry(query AttributeQuery) Registry {
	if c.IDList != "" {
		query = ListQuery{File: c.IDList}
	}
	return Registry{Query: query, Layer: c.Layer, Column: c.Column}
}

// AttributeQuery returns the query matching c's engine
func (c RunConfig) AttributeQuery() AttributeQuery {
	if c.Engine == "godal" {
		return GodalQuery{Dataset: c.Mask}
	}
	return OGRQuery{Dataset: c.Mask}
}

// ClipTool returns the clip tool matching c's engine
func (c RunConfig) ClipTool() ClipTool {
	cutline := Cutline{Dataset: c.Mask, Layer: c.Layer, Column: c.Column}
	if c.Engine == "godal" {
		return GodalWarp{
			Mosaic:          c.Mosaic,
			Cutline:         cutline,
			Switches:        c.Switches,
			CreationOptions: c.CreationOptions,
			ConfigOptions:   c.ConfigOptions,
		}
	}
	return GDALWarp{
		Mosaic:          c.Mosaic,
		Cutline:         cutline,
		Switches:        c.Switches,
		CreationOptions: c.CreationOptions,
		ConfigOptions:   c.ConfigOptions,
	}
}

// OpenLedger opens the completion ledger of the run
func (c RunConfig) OpenLedger(owner string, artifacts ArtifactStore) (Ledger, io.Closer, error) {
	if c.Ledger == "sqlite" {
		l, err := OpenSQLiteLedger(c.LedgerDB(), owner, artifacts)
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	}
	l, err := NewFSLedger(c.DoneDir(), artifacts)
	return l, nil, err
}

// NewComponents wires the components of a unit owned by owner
func (c RunConfig) NewComponents(owner string, artifacts ArtifactStore) (Components, error) {
	ledger, closer, err := c.OpenLedger(owner, artifacts)
	if err != nil {
		return Components{}, fmt.Errorf("open ledger: %w", err)
	}
	locks, err := NewLockDir(c.LockDir(), owner, c.LockStaleAfter(), c.ReclaimStale)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return Components{}, err
	}
	return Components{
		Ledger:    ledger,
		Locks:     locks,
		Clip:      c.ClipTool(),
		Artifacts: artifacts,
		Closer:    closer,
	}, nil
}

// RunUnit executes the chunk of the given unit index and records its
// throughput statistics
func RunUnit(ctx context.Context, cfg RunConfig, index int, owner string, comp Components) (Report, error) {
	chunk, err := ReadChunk(cfg.ChunkDir(), index)
	if err != nil {
		return Report{}, fmt.Errorf("unit %d: %w", index, err)
	}
	e := &Executor{
		Ledger:      comp.Ledger,
		Locks:       comp.Locks,
		Clip:        comp.Clip,
		Artifacts:   comp.Artifacts,
		Concurrency: cfg.CoresPerUnit,
	}
	report, runErr := e.Run(ctx, chunk)
	st := UnitStats{
		Unit:        index,
		Owner:       owner,
		Clipped:     report.Clipped,
		Failed:      report.Failed,
		ClipSeconds: report.ClipSeconds,
		Finished:    time.Now().UTC(),
	}
	if err := WriteUnitStats(cfg.StatsDir(), st); err != nil && runErr == nil {
		return report, fmt.Errorf("write stats: %w", err)
	}
	return report, runErr
}
