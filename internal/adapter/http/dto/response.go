package dto

import (
	"time"

	"github.com/iho/cashledger/internal/domain"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string  `json:"error"`
	Code      string  `json:"code"`
	Message   string  `json:"message,omitempty"`
	Field     string  `json:"field,omitempty"`
	Attempted *string `json:"attempted,omitempty"`
	Available *string `json:"available,omitempty"`
}

// ListResponse wraps a page of results.
type ListResponse[T any] struct {
	Data   []T   `json:"data"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// MovementResponse represents a movement in API responses. Money is
// rendered with exactly two decimals.
type MovementResponse struct {
	ID             int64     `json:"id"`
	Kind           string    `json:"kind"`
	Amount         string    `json:"amount"`
	SignedAmount   string    `json:"signed_amount"`
	Description    *string   `json:"description"`
	Reference      *string   `json:"reference"`
	Counterparty   *string   `json:"counterparty"`
	CategoryID     *int64    `json:"category_id"`
	CategoryName   *string   `json:"category_name"`
	RecordedBy     *string   `json:"recorded_by"`
	RecordedByName *string   `json:"recorded_by_name"`
	ModifiedBy     *string   `json:"modified_by"`
	RunningBalance *string   `json:"running_balance,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MovementFromDomain converts a domain movement to a response.
func MovementFromDomain(m *domain.Movement) *MovementResponse {
	return &MovementResponse{
		ID:             m.ID,
		Kind:           string(m.Kind),
		Amount:         m.Amount.StringFixed(2),
		SignedAmount:   m.SignedAmount().StringFixed(2),
		Description:    m.Description,
		Reference:      m.Reference,
		Counterparty:   m.Counterparty,
		CategoryID:     m.CategoryID,
		CategoryName:   m.CategoryName,
		RecordedBy:     m.RecordedBy,
		RecordedByName: m.RecordedByName,
		ModifiedBy:     m.ModifiedBy,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// MovementWithBalanceFromDomain adds the running balance to the response.
func MovementWithBalanceFromDomain(m *domain.MovementWithBalance) *MovementResponse {
	resp := MovementFromDomain(m.Movement)
	balance := m.RunningBalance.StringFixed(2)
	resp.RunningBalance = &balance
	return resp
}

// MovementsWithBalanceFromDomain converts a page of movements.
func MovementsWithBalanceFromDomain(items []*domain.MovementWithBalance) []*MovementResponse {
	result := make([]*MovementResponse, len(items))
	for i, m := range items {
		result[i] = MovementWithBalanceFromDomain(m)
	}
	return result
}

// AuditEntryResponse represents an audit entry in API responses.
type AuditEntryResponse struct {
	ID              int64           `json:"id"`
	MovementID      int64           `json:"movement_id"`
	Action          string          `json:"action"`
	Snapshot        domain.Snapshot `json:"snapshot"`
	Changes         domain.Changes  `json:"changes,omitempty"`
	PerformedBy     *string         `json:"performed_by"`
	PerformedByName *string         `json:"performed_by_name"`
	CreatedAt       time.Time       `json:"created_at"`
}

// AuditEntriesFromDomain converts audit entries to responses.
func AuditEntriesFromDomain(entries []*domain.AuditEntry) []*AuditEntryResponse {
	result := make([]*AuditEntryResponse, len(entries))
	for i, e := range entries {
		result[i] = &AuditEntryResponse{
			ID:              e.ID,
			MovementID:      e.MovementID,
			Action:          string(e.Action),
			Snapshot:        e.Snapshot,
			Changes:         e.Changes,
			PerformedBy:     e.PerformedBy,
			PerformedByName: e.PerformedByName,
			CreatedAt:       e.CreatedAt,
		}
	}
	return result
}

// AuditStatsResponse counts audit entries per action.
type AuditStatsResponse struct {
	Total   int64 `json:"total"`
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
	Deleted int64 `json:"deleted"`
}

// AuditStatsFromDomain converts audit stats.
func AuditStatsFromDomain(s domain.AuditStats) AuditStatsResponse {
	return AuditStatsResponse{Total: s.Total, Created: s.Created, Updated: s.Updated, Deleted: s.Deleted}
}

// AggregateResponse is the balance summary of a set of movements.
type AggregateResponse struct {
	TotalIncoming string     `json:"total_incoming"`
	TotalOutgoing string     `json:"total_outgoing"`
	Balance       string     `json:"balance"`
	Count         int64      `json:"count"`
	AsOf          *time.Time `json:"as_of,omitempty"`
}

// AggregateFromDomain converts an aggregate.
func AggregateFromDomain(a domain.Aggregate, asOf *time.Time) AggregateResponse {
	return AggregateResponse{
		TotalIncoming: a.TotalIncoming.StringFixed(2),
		TotalOutgoing: a.TotalOutgoing.StringFixed(2),
		Balance:       a.Balance.StringFixed(2),
		Count:         a.Count,
		AsOf:          asOf,
	}
}

// DashboardResponse shows today's activity next to the overall totals.
type DashboardResponse struct {
	Today   AggregateResponse `json:"today"`
	Overall AggregateResponse `json:"overall"`
}

// DailyPoint is one day of the analytics series.
type DailyPoint struct {
	Date     string `json:"date"`
	Incoming string `json:"incoming"`
	Outgoing string `json:"outgoing"`
}

// CategoryPoint is one slice of the category distribution.
type CategoryPoint struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	Incoming string `json:"incoming"`
	Outgoing string `json:"outgoing"`
	Total    string `json:"total"`
}

// AnalyticsResponse summarises a date range.
type AnalyticsResponse struct {
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	Daily          []DailyPoint    `json:"daily"`
	Categories     []CategoryPoint `json:"categories"`
	TotalIncoming  string          `json:"total_incoming"`
	TotalOutgoing  string          `json:"total_outgoing"`
	Count          int64           `json:"count"`
	CurrentBalance string          `json:"current_balance"`
	ProfitMargin   string          `json:"profit_margin"`
}

// AnalyticsFromDomain converts analytics.
func AnalyticsFromDomain(a *domain.Analytics) AnalyticsResponse {
	resp := AnalyticsResponse{
		From:           a.From,
		To:             a.To,
		Daily:          make([]DailyPoint, len(a.Daily)),
		Categories:     make([]CategoryPoint, len(a.Categories)),
		TotalIncoming:  a.TotalIncoming.StringFixed(2),
		TotalOutgoing:  a.TotalOutgoing.StringFixed(2),
		Count:          a.Count,
		CurrentBalance: a.CurrentBalance.StringFixed(2),
		ProfitMargin:   a.ProfitMargin.StringFixed(2),
	}
	for i, d := range a.Daily {
		resp.Daily[i] = DailyPoint{Date: d.Date, Incoming: d.Incoming.StringFixed(2), Outgoing: d.Outgoing.StringFixed(2)}
	}
	for i, c := range a.Categories {
		resp.Categories[i] = CategoryPoint{
			Name:     c.Name,
			Color:    c.Color,
			Incoming: c.Incoming.StringFixed(2),
			Outgoing: c.Outgoing.StringFixed(2),
			Total:    c.Total().StringFixed(2),
		}
	}
	return resp
}

// ConsistencyResponse reports whether the maintained running total
// matches the movements.
type ConsistencyResponse struct {
	Status          string    `json:"status"`
	Consistent      bool      `json:"consistent"`
	RecordedBalance string    `json:"recorded_balance"`
	ComputedBalance string    `json:"computed_balance"`
	Difference      string    `json:"difference"`
	RecordedCount   int64     `json:"recorded_count"`
	ComputedCount   int64     `json:"computed_count"`
	CheckedAt       time.Time `json:"checked_at"`
}
