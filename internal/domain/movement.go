package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the direction of a movement.
type Kind string

const (
	// KindIncoming is money entering the till ("recette").
	KindIncoming Kind = "incoming"
	// KindOutgoing is money leaving the till ("depense").
	KindOutgoing Kind = "outgoing"
)

// legacyKinds maps the labels used by the original bookkeeping screens.
var legacyKinds = map[string]Kind{
	"recette": KindIncoming,
	"depense": KindOutgoing,
}

// ParseKind accepts both the canonical and the legacy labels.
func ParseKind(s string) (Kind, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch Kind(v) {
	case KindIncoming, KindOutgoing:
		return Kind(v), nil
	}
	if k, ok := legacyKinds[v]; ok {
		return k, nil
	}
	return "", NewValidationError("kind", "must be incoming or outgoing")
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	return k == KindIncoming || k == KindOutgoing
}

// Movement is one recorded inflow or outflow of cash.
type Movement struct {
	ID             int64
	Kind           Kind
	Amount         decimal.Decimal
	Description    *string
	Reference      *string
	Counterparty   *string
	CategoryID     *int64
	CategoryName   *string
	RecordedBy     *string
	RecordedByName *string
	ModifiedBy     *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SignedAmount returns the contribution of the movement to the balance.
func (m *Movement) SignedAmount() decimal.Decimal {
	if m.Kind == KindOutgoing {
		return m.Amount.Neg()
	}
	return m.Amount
}

// Clone returns a deep copy of the movement.
func (m *Movement) Clone() *Movement {
	if m == nil {
		return nil
	}
	c := *m
	c.Description = cloneString(m.Description)
	c.Reference = cloneString(m.Reference)
	c.Counterparty = cloneString(m.Counterparty)
	c.CategoryName = cloneString(m.CategoryName)
	c.RecordedBy = cloneString(m.RecordedBy)
	c.RecordedByName = cloneString(m.RecordedByName)
	c.ModifiedBy = cloneString(m.ModifiedBy)
	if m.CategoryID != nil {
		id := *m.CategoryID
		c.CategoryID = &id
	}
	return &c
}

// MovementWithBalance pairs a movement with the balance right after it.
type MovementWithBalance struct {
	Movement       *Movement
	RunningBalance decimal.Decimal
}

// SortField is a column movements can be listed by.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByAmount    SortField = "amount"
)

// MovementFilter narrows a movement listing. Filters never affect the
// running balance, which is always computed over the whole ledger.
type MovementFilter struct {
	Kind          *Kind
	CategoryName  string
	Author        string
	Search        string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	UpdatedFrom   *time.Time
	UpdatedTo     *time.Time
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
	SortBy        SortField
	SortAscending bool
	Limit         int
	Offset        int
}

// NormalizeText trims s and turns blank input into nil.
func NormalizeText(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
