package wbdclip

import (
	"context"
)

// Status compares the expected work items of a run with the produced ones
type Status struct {
	Expected int
	Produced int
	Pending  []string
}

// Deficit is the number of items that still need to be produced
func (s Status) Deficit() int {
	return s.Expected - s.Produced
}

// CheckStatus reports how many of ids are done according to l
func CheckStatus(ctx context.Context, l Ledger, ids []string) (Status, error) {
	pending, err := l.PendingOf(ctx, ids)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Expected: len(ids),
		Produced: len(ids) - len(pending),
		Pending:  pending,
	}, nil
}
