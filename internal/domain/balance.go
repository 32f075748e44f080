package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Aggregate is the summary of a set of movements.
type Aggregate struct {
	TotalIncoming decimal.Decimal
	TotalOutgoing decimal.Decimal
	Balance       decimal.Decimal
	Count         int64
}

// ComputeAggregate sums movements created at or before asOf (all of them
// when asOf is nil). The result does not depend on input order.
func ComputeAggregate(movements []*Movement, asOf *time.Time) Aggregate {
	agg := Aggregate{
		TotalIncoming: decimal.Zero,
		TotalOutgoing: decimal.Zero,
	}

	for _, m := range movements {
		if asOf != nil && m.CreatedAt.After(*asOf) {
			continue
		}
		agg.add(m)
	}

	agg.Balance = agg.TotalIncoming.Sub(agg.TotalOutgoing)
	return agg
}

// BalanceExcluding returns the balance of every movement except excludeID.
// It is the baseline the guard compares an outgoing amount against.
func BalanceExcluding(movements []*Movement, excludeID int64) decimal.Decimal {
	balance := decimal.Zero
	for _, m := range movements {
		if excludeID != 0 && m.ID == excludeID {
			continue
		}
		balance = balance.Add(m.SignedAmount())
	}
	return balance
}

func (a *Aggregate) add(m *Movement) {
	switch m.Kind {
	case KindIncoming:
		a.TotalIncoming = a.TotalIncoming.Add(m.Amount)
	case KindOutgoing:
		a.TotalOutgoing = a.TotalOutgoing.Add(m.Amount.Abs())
	}
	a.Count++
}

// CanonicalLess orders movements by creation time, then by id.
func CanonicalLess(a, b *Movement) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortCanonical sorts movements in place in canonical order.
func SortCanonical(movements []*Movement) {
	sort.SliceStable(movements, func(i, j int) bool {
		return CanonicalLess(movements[i], movements[j])
	})
}

// RunningBalances returns, for every movement, the balance as of and
// including that movement in canonical order. The input is not modified.
func RunningBalances(movements []*Movement) map[int64]decimal.Decimal {
	ordered := make([]*Movement, len(movements))
	copy(ordered, movements)
	SortCanonical(ordered)

	result := make(map[int64]decimal.Decimal, len(ordered))
	running := decimal.Zero
	for _, m := range ordered {
		running = running.Add(m.SignedAmount())
		result[m.ID] = running
	}
	return result
}
