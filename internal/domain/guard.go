package domain

import "github.com/shopspring/decimal"

// CheckNonNegative enforces that a movement of the given kind and amount
// keeps the balance at or above zero. baseline is the balance of every
// other movement in the ledger. Incoming movements always pass.
func CheckNonNegative(kind Kind, amount, baseline decimal.Decimal) error {
	if kind != KindOutgoing {
		return nil
	}
	if amount.GreaterThan(baseline) {
		return &InsufficientBalanceError{Attempted: amount, Available: baseline}
	}
	return nil
}
