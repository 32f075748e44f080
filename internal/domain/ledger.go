package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerState is the single, transactionally maintained running total.
// Every mutating unit of work locks it first, which serializes writers.
type LedgerState struct {
	Balance       decimal.Decimal
	MovementCount int64
	Version       int64
	UpdatedAt     time.Time
}

// Apply records a committed mutation on the state.
func (s *LedgerState) Apply(balance decimal.Decimal, countDelta int64, at time.Time) {
	s.Balance = balance
	s.MovementCount += countDelta
	s.Version++
	s.UpdatedAt = at
}
