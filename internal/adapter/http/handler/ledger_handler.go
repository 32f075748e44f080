package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/iho/cashledger/internal/adapter/http/dto"
	"github.com/iho/cashledger/internal/usecase"
)

// ReconciliationService defines the behavior needed by LedgerHandler.
type ReconciliationService interface {
	CheckConsistency(ctx context.Context) (*usecase.ReconciliationReport, error)
}

// LedgerHandler handles ledger-wide operations.
type LedgerHandler struct {
	reconciliationUC ReconciliationService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(reconciliationUC ReconciliationService) *LedgerHandler {
	return &LedgerHandler{reconciliationUC: reconciliationUC}
}

// CheckConsistency compares the maintained running total with the
// movements. An inconsistent ledger answers 409 with the full report.
func (h *LedgerHandler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciliationUC.CheckConsistency(r.Context())
	if err != nil && !errors.Is(err, usecase.ErrInconsistentLedger) {
		writeDomainError(w, r, err)
		return
	}

	status, label := http.StatusOK, "consistent"
	if !report.Consistent {
		status, label = http.StatusConflict, "inconsistent"
	}

	writeJSON(w, status, dto.ConsistencyResponse{
		Status:          label,
		Consistent:      report.Consistent,
		RecordedBalance: report.RecordedBalance.StringFixed(2),
		ComputedBalance: report.ComputedBalance.StringFixed(2),
		Difference:      report.Difference.StringFixed(2),
		RecordedCount:   report.RecordedCount,
		ComputedCount:   report.ComputedCount,
		CheckedAt:       report.CheckedAt,
	})
}
