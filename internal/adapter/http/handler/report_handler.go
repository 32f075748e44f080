package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/iho/cashledger/internal/adapter/http/dto"
	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/usecase"
)

// BalanceService defines the behavior needed by ReportHandler.
type BalanceService interface {
	ComputeAggregate(ctx context.Context, asOf *time.Time) (domain.Aggregate, error)
	Dashboard(ctx context.Context) (*usecase.DashboardStats, error)
	Analytics(ctx context.Context, from, to *time.Time) (*domain.Analytics, error)
}

// ReportHandler serves balances and summaries.
type ReportHandler struct {
	balanceUC BalanceService
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(balanceUC BalanceService) *ReportHandler {
	return &ReportHandler{balanceUC: balanceUC}
}

// Balance returns the current balance, or the balance as of ?as_of=.
func (h *ReportHandler) Balance(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseTimeQuery(r, "as_of", true)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	agg, err := h.balanceUC.ComputeAggregate(r.Context(), asOf)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AggregateFromDomain(agg, asOf))
}

// Stats returns the all-time totals.
func (h *ReportHandler) Stats(w http.ResponseWriter, r *http.Request) {
	agg, err := h.balanceUC.ComputeAggregate(r.Context(), nil)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AggregateFromDomain(agg, nil))
}

// Dashboard returns today's activity and the overall totals.
func (h *ReportHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.balanceUC.Dashboard(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.DashboardResponse{
		Today:   dto.AggregateFromDomain(stats.Today, nil),
		Overall: dto.AggregateFromDomain(stats.Overall, nil),
	})
}

// Analytics summarises ?date_from= to ?date_to=, defaulting to the last
// thirty days when either bound is missing.
func (h *ReportHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeQuery(r, "date_from", false)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	to, err := parseTimeQuery(r, "date_to", true)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	analytics, err := h.balanceUC.Analytics(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AnalyticsFromDomain(analytics))
}
