package constellation

import (
	"context"
	"errors"
	"time"
)

// ErrBudgetExhausted signals that the request's wall-clock budget has been
// consumed. It is internal: builders translate it into truncation flags and
// never surface it to callers.
var ErrBudgetExhausted = errors.New("budget exhausted")

// Budget is a wall-clock allowance for one composite request. Every
// sub-operation derives its own context from the shrinking remainder; once
// the remainder falls below the floor, no further sub-operations start.
type Budget struct {
	deadline time.Time
	floor    time.Duration
}

// NewBudget starts a budget of total with the given floor.
func NewBudget(total, floor time.Duration) *Budget {
	return &Budget{deadline: time.Now().Add(total), floor: floor}
}

// Remaining returns the time left, never negative.
func (b *Budget) Remaining() time.Duration {
	r := time.Until(b.deadline)
	if r < 0 {
		return 0
	}
	return r
}

// Exhausted reports whether the remainder has fallen below the floor.
func (b *Budget) Exhausted() bool {
	return b.Remaining() <= b.floor
}

// Context derives a sub-operation context capped at min(remaining, max);
// max <= 0 means the whole remainder. Returns ErrBudgetExhausted instead of a
// context once the budget is spent.
func (b *Budget) Context(ctx context.Context, max time.Duration) (context.Context, context.CancelFunc, error) {
	rem := b.Remaining()
	if rem <= b.floor {
		return nil, nil, ErrBudgetExhausted
	}
	if max > 0 && max < rem {
		rem = max
	}
	cctx, cancel := context.WithTimeout(ctx, rem)
	return cctx, cancel, nil
}
