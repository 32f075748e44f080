package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/usecase"
)

const ledgerStateColumns = `balance, movement_count, version, updated_at`

// LedgerRepository implements usecase.LedgerRepository on top of the
// single-row ledger_state table and the movements table.
type LedgerRepository struct {
	db dbtx
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return newLedgerRepository(pool)
}

func newLedgerRepository(db dbtx) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// LockForUpdate locks the ledger_state row. Concurrent writers queue here.
func (r *LedgerRepository) LockForUpdate(ctx context.Context, tx usecase.Transaction) (*domain.LedgerState, error) {
	q, err := inTx(tx)
	if err != nil {
		return nil, err
	}
	return scanLedgerState(q.QueryRow(ctx, `SELECT `+ledgerStateColumns+` FROM ledger_state WHERE id = 1 FOR UPDATE`))
}

// BalanceExcluding sums every movement but excludeID as seen by tx.
func (r *LedgerRepository) BalanceExcluding(ctx context.Context, tx usecase.Transaction, excludeID int64) (decimal.Decimal, error) {
	q, err := inTx(tx)
	if err != nil {
		return decimal.Zero, err
	}

	var sum pgtype.Numeric
	if err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(`+signedAmount+`), 0)
		FROM movements m
		WHERE m.id <> $1`, excludeID).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return toDecimal(sum)
}

// UpdateState stores the new running total.
func (r *LedgerRepository) UpdateState(ctx context.Context, tx usecase.Transaction, state *domain.LedgerState) error {
	q, err := inTx(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		UPDATE ledger_state
		SET balance = $1, movement_count = $2, version = $3, updated_at = $4
		WHERE id = 1`,
		state.Balance, state.MovementCount, state.Version, state.UpdatedAt)
	return err
}

// State returns the committed running total.
func (r *LedgerRepository) State(ctx context.Context) (*domain.LedgerState, error) {
	return scanLedgerState(r.db.QueryRow(ctx, `SELECT `+ledgerStateColumns+` FROM ledger_state WHERE id = 1`))
}

// Aggregate sums movements created at or before asOf, or all of them.
func (r *LedgerRepository) Aggregate(ctx context.Context, asOf *time.Time) (domain.Aggregate, error) {
	w := &where{}
	if asOf != nil {
		w.add("m.created_at <= ?", *asOf)
	}

	var incoming, outgoing pgtype.Numeric
	var count int64
	err := r.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(m.amount) FILTER (WHERE m.kind = 'incoming'), 0),
			COALESCE(SUM(m.amount) FILTER (WHERE m.kind = 'outgoing'), 0),
			COUNT(*)
		FROM movements m`+w.String(), w.args...).Scan(&incoming, &outgoing, &count)
	if err != nil {
		return domain.Aggregate{}, err
	}

	agg := domain.Aggregate{Count: count}
	if agg.TotalIncoming, err = toDecimal(incoming); err != nil {
		return domain.Aggregate{}, err
	}
	if agg.TotalOutgoing, err = toDecimal(outgoing); err != nil {
		return domain.Aggregate{}, err
	}
	agg.Balance = agg.TotalIncoming.Sub(agg.TotalOutgoing)
	return agg, nil
}

// RunningBalanceAt sums every movement up to and including (createdAt, id).
func (r *LedgerRepository) RunningBalanceAt(ctx context.Context, createdAt time.Time, id int64) (decimal.Decimal, error) {
	var sum pgtype.Numeric
	if err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(`+signedAmount+`), 0)
		FROM movements m
		WHERE (m.created_at, m.id) <= ($1, $2)`, createdAt, id).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return toDecimal(sum)
}

func scanLedgerState(row pgx.Row) (*domain.LedgerState, error) {
	var (
		s       domain.LedgerState
		balance pgtype.Numeric
	)
	if err := row.Scan(&balance, &s.MovementCount, &s.Version, &s.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if s.Balance, err = toDecimal(balance); err != nil {
		return nil, err
	}
	return &s, nil
}

func toDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(n.Int.String())
	if err != nil {
		return decimal.Zero, err
	}

	if n.Exp != 0 {
		d = d.Shift(n.Exp)
	}

	return d, nil
}
