package domain

import (
	"fmt"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Validation constants
const (
	MaxAmount          = "9999999999999.99" // NUMERIC(15,2)
	AmountScale        = 2
	MaxReferenceLength = 255
	MaxPartyLength     = 255
	MaxDescriptionLen  = 10000
	MaxPageSize        = 1000
	DefaultPageSize    = 50
)

var maxAmount = decimal.RequireFromString(MaxAmount)

// ValidateAmount checks that amount is a positive value with at most two
// decimal places that fits the storage column.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewValidationError("amount", "must be greater than zero")
	}

	if !amount.Equal(amount.Truncate(AmountScale)) {
		return NewValidationError("amount", fmt.Sprintf("must have at most %d decimal places", AmountScale))
	}

	if amount.GreaterThan(maxAmount) {
		return NewValidationError("amount", "exceeds maximum of "+MaxAmount)
	}

	return nil
}

// ValidateKind checks the movement direction.
func ValidateKind(kind Kind) error {
	if !kind.IsValid() {
		return NewValidationError("kind", "must be incoming or outgoing")
	}
	return nil
}

// ValidateText checks an optional free-text field against a rune limit.
func ValidateText(field string, value *string, maxLen int) error {
	if value == nil {
		return nil
	}
	if utf8.RuneCountInString(*value) > maxLen {
		return NewValidationError(field, fmt.Sprintf("exceeds %d characters", maxLen))
	}
	return nil
}

// ValidateMovement checks every user-supplied field of m.
func ValidateMovement(m *Movement) error {
	if err := ValidateKind(m.Kind); err != nil {
		return err
	}
	if err := ValidateAmount(m.Amount); err != nil {
		return err
	}
	if err := ValidateText("description", m.Description, MaxDescriptionLen); err != nil {
		return err
	}
	if err := ValidateText("reference", m.Reference, MaxReferenceLength); err != nil {
		return err
	}
	return ValidateText("counterparty", m.Counterparty, MaxPartyLength)
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}
