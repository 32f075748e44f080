package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInconsistentLedger is returned when the maintained running total
	// disagrees with the sum of the recorded movements.
	ErrInconsistentLedger = errors.New("ledger is inconsistent: running total does not match movements")
)

// ReconciliationUseCase handles balance reconciliation operations
type ReconciliationUseCase struct {
	ledgerRepo LedgerRepository
}

// NewReconciliationUseCase creates a new reconciliation use case
func NewReconciliationUseCase(ledgerRepo LedgerRepository) *ReconciliationUseCase {
	return &ReconciliationUseCase{ledgerRepo: ledgerRepo}
}

// ReconciliationReport compares the stored running total with a fresh
// recomputation over every movement.
type ReconciliationReport struct {
	RecordedBalance decimal.Decimal
	ComputedBalance decimal.Decimal
	Difference      decimal.Decimal
	RecordedCount   int64
	ComputedCount   int64
	Consistent      bool
	CheckedAt       time.Time
}

// CheckConsistency builds a report. When the two sides disagree the report
// is returned together with ErrInconsistentLedger.
func (uc *ReconciliationUseCase) CheckConsistency(ctx context.Context) (*ReconciliationReport, error) {
	state, err := uc.ledgerRepo.State(ctx)
	if err != nil {
		return nil, err
	}

	agg, err := uc.ledgerRepo.Aggregate(ctx, nil)
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{
		RecordedBalance: state.Balance,
		ComputedBalance: agg.Balance,
		Difference:      state.Balance.Sub(agg.Balance),
		RecordedCount:   state.MovementCount,
		ComputedCount:   agg.Count,
		CheckedAt:       time.Now().UTC(),
	}
	report.Consistent = report.Difference.IsZero() && report.RecordedCount == report.ComputedCount

	if !report.Consistent {
		return report, ErrInconsistentLedger
	}
	return report, nil
}
