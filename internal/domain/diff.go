package domain

import "github.com/shopspring/decimal"

// Tracked field names as they appear in Changes.
const (
	FieldKind         = "kind"
	FieldDescription  = "description"
	FieldAmount       = "amount"
	FieldReference    = "reference"
	FieldCounterparty = "counterparty"
	FieldCategory     = "category"
)

// Diff returns the tracked fields that differ between before and after.
// Category changes are detected by id and reported by name. An empty
// result means no audit entry is due.
func Diff(before, after Snapshot) Changes {
	changes := Changes{}

	if before.Kind != after.Kind {
		changes[FieldKind] = change(ptr(string(before.Kind)), ptr(string(after.Kind)))
	}
	if !sameText(before.Description, after.Description) {
		changes[FieldDescription] = change(before.Description, after.Description)
	}
	if !sameAmount(before.Amount, after.Amount) {
		changes[FieldAmount] = change(ptr(before.Amount), ptr(after.Amount))
	}
	if !sameText(before.Reference, after.Reference) {
		changes[FieldReference] = change(before.Reference, after.Reference)
	}
	if !sameText(before.Counterparty, after.Counterparty) {
		changes[FieldCounterparty] = change(before.Counterparty, after.Counterparty)
	}
	if !sameID(before.CategoryID, after.CategoryID) {
		changes[FieldCategory] = change(before.CategoryName, after.CategoryName)
	}

	return changes
}

func change(from, to *string) FieldChange {
	return FieldChange{Old: cloneString(from), New: cloneString(to)}
}

func sameText(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameAmount(a, b string) bool {
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return da.Equal(db)
}

func ptr(s string) *string { return &s }
