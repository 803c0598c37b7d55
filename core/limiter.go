package core

import (
	"errors"
	"sync"
)

// ErrBudgetExhausted is returned once an IterationBudget has no calls left.
var ErrBudgetExhausted = errors.New("iteration budget exhausted")

// IterationBudget bounds the number of model selection calls a single turn may
// perform. It acts as the turn's logical timeout.
type IterationBudget struct {
	max  int
	used int
	mu   sync.Mutex
}

// NewIterationBudget creates a budget allowing max calls. Values below one
// allow a single call.
func NewIterationBudget(max int) *IterationBudget {
	if max < 1 {
		max = 1
	}

	return &IterationBudget{max: max}
}

// Take consumes one call or returns ErrBudgetExhausted without consuming.
func (b *IterationBudget) Take() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.used >= b.max {
		return ErrBudgetExhausted
	}

	b.used++

	return nil
}

// Used returns how many calls were consumed.
func (b *IterationBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.used
}

// Remaining returns how many calls are left.
func (b *IterationBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.max - b.used
}
