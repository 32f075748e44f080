package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/usecase"
)

// LedgerRepository implements usecase.LedgerRepository.
type LedgerRepository struct {
	store *Store
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(store *Store) *LedgerRepository {
	return &LedgerRepository{store: store}
}

// LockForUpdate returns the staged ledger state. The write lock taken in
// Begin already excludes other writers.
func (r *LedgerRepository) LockForUpdate(ctx context.Context, tx usecase.Transaction) (*domain.LedgerState, error) {
	st, err := stateOf(tx)
	if err != nil {
		return nil, err
	}
	ls := st.ledger
	return &ls, nil
}

// BalanceExcluding sums every staged movement except excludeID.
func (r *LedgerRepository) BalanceExcluding(ctx context.Context, tx usecase.Transaction, excludeID int64) (decimal.Decimal, error) {
	st, err := stateOf(tx)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.BalanceExcluding(values(st.movements), excludeID), nil
}

// UpdateState stores the new ledger state.
func (r *LedgerRepository) UpdateState(ctx context.Context, tx usecase.Transaction, ls *domain.LedgerState) error {
	st, err := stateOf(tx)
	if err != nil {
		return err
	}
	st.ledger = *ls
	return nil
}

// State returns the committed ledger state.
func (r *LedgerRepository) State(ctx context.Context) (*domain.LedgerState, error) {
	var ls domain.LedgerState
	r.store.read(func(st *state) { ls = st.ledger })
	return &ls, nil
}

// Aggregate computes totals over committed movements.
func (r *LedgerRepository) Aggregate(ctx context.Context, asOf *time.Time) (domain.Aggregate, error) {
	var agg domain.Aggregate
	r.store.read(func(st *state) {
		agg = domain.ComputeAggregate(values(st.movements), asOf)
	})
	return agg, nil
}

// RunningBalanceAt returns the balance up to and including the movement
// identified by (createdAt, id) in canonical order.
func (r *LedgerRepository) RunningBalanceAt(ctx context.Context, createdAt time.Time, id int64) (decimal.Decimal, error) {
	pivot := &domain.Movement{ID: id, CreatedAt: createdAt}
	balance := decimal.Zero
	r.store.read(func(st *state) {
		for _, m := range st.movements {
			if m.ID == id || domain.CanonicalLess(m, pivot) {
				balance = balance.Add(m.SignedAmount())
			}
		}
	})
	return balance, nil
}

func values(movements map[int64]*domain.Movement) []*domain.Movement {
	out := make([]*domain.Movement, 0, len(movements))
	for _, m := range movements {
		out = append(out, m)
	}
	return out
}
