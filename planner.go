package wbdclip

import (
	"fmt"
	"math"
	"time"
)

// A Planner holds the information needed to split a list of work items into
// chunks that can each be processed by one scheduling unit in roughly the same
// amount of time.
//
// Two strategies are available: a fixed number of items per chunk, or a time
// budget per chunk from which the chunk size is derived using a historical
// throughput estimate and the number of cores available to each unit.
type Planner struct {
	strategy      Strategy
	chunkSize     int
	secondsByItem float64
	target        time.Duration
	cores         int
}

type Strategy string

const (
	StrategyFixed  Strategy = "fixed"
	StrategyBudget Strategy = "budget"
)

type PlannerOption func(p *Planner) error

// FixedSize creates chunks of exactly size items, the last chunk being possibly shorter
func FixedSize(size int) PlannerOption {
	return func(p *Planner) error {
		if size < 1 {
			return ErrPlanning{"chunk size must be >=1"}
		}
		p.strategy = StrategyFixed
		p.chunkSize = size
		return nil
	}
}

// Budget sizes chunks so that a unit with cores concurrent workers processes
// its chunk in approximately target, given that a single item takes
// secondsPerItem on one core.
func Budget(secondsPerItem float64, target time.Duration, cores int) PlannerOption {
	return func(p *Planner) error {
		if !(secondsPerItem > 0) || math.IsInf(secondsPerItem, 0) {
			return ErrPlanning{"seconds per item must be >0"}
		}
		if target <= 0 {
			return ErrPlanning{"target duration must be >0"}
		}
		if cores < 1 {
			return ErrPlanning{"cores per unit must be >=1"}
		}
		p.strategy = StrategyBudget
		p.secondsByItem = secondsPerItem
		p.target = target
		p.cores = cores
		return nil
	}
}

// NewPlanner creates a planner. Without options, chunks hold 100 items.
func NewPlanner(options ...PlannerOption) (Planner, error) {
	p := Planner{
		strategy:  StrategyFixed,
		chunkSize: 100,
	}
	for _, o := range options {
		if err := o(&p); err != nil {
			return p, err
		}
	}
	return p, nil
}

// ItemsPerChunk returns the number of items placed in every chunk but the last
func (p Planner) ItemsPerChunk() int {
	if p.strategy == StrategyFixed {
		return p.chunkSize
	}
	n := int(math.Ceil(float64(p.cores) * p.target.Seconds() / p.secondsByItem))
	if n < 1 {
		n = 1
	}
	return n
}

func (p Planner) Strategy() Strategy {
	return p.strategy
}

// A Chunk is a named, ordered subset of the work items
type Chunk struct {
	Index int
	Items []string
}

func (c Chunk) Name() string {
	return fmt.Sprintf("chunk_%05d", c.Index)
}

// A Plan is the partition of a registry into chunks
type Plan struct {
	Strategy      Strategy
	ItemsPerChunk int
	Total         int
	Chunks        []Chunk
}

// Plan partitions items into consecutive chunks. The concatenation of all
// chunks is exactly items.
func (p Planner) Plan(items []string) (Plan, error) {
	if len(items) == 0 {
		return Plan{}, ErrPlanning{"cannot plan 0 items"}
	}
	size := p.ItemsPerChunk()
	if size < 1 {
		return Plan{}, ErrPlanning{fmt.Sprintf("invalid chunk size %d", size)}
	}
	numChunks := (len(items) + size - 1) / size
	plan := Plan{
		Strategy:      p.strategy,
		ItemsPerChunk: size,
		Total:         len(items),
		Chunks:        make([]Chunk, numChunks),
	}
	for c := 0; c < numChunks; c++ {
		lo := c * size
		hi := lo + size
		if hi > len(items) {
			hi = len(items)
		}
		chunk := make([]string, hi-lo)
		copy(chunk, items[lo:hi])
		plan.Chunks[c] = Chunk{Index: c, Items: chunk}
	}
	return plan, nil
}
