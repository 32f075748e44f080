package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/usecase"
)

var movementCols = []string{
	"id", "kind", "amount", "description", "reference", "counterparty",
	"category_id", "name", "recorded_by", "display_name", "modified_by",
	"created_at", "updated_at",
}

func strPtr(s string) *string { return &s }

func beginMock(t *testing.T, pool pgxmock.PgxPoolIface) usecase.Transaction {
	t.Helper()
	pool.ExpectBeginTx(ledgerTxOptions)
	tx, err := newTxManagerWithPool(pool).Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func TestMovementRepository_Create(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMock(t, pool)
	repo := newMovementRepository(pool)

	now := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	m := &domain.Movement{
		Kind:       domain.KindOutgoing,
		Amount:     decimal.RequireFromString("12.50"),
		Reference:  strPtr("INV-1"),
		RecordedBy: strPtr("u1"),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	pool.ExpectQuery("INSERT INTO movements").
		WithArgs("outgoing", pgxmock.AnyArg(), (*string)(nil), m.Reference, (*string)(nil), (*int64)(nil), m.RecordedBy, now, now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(17)))

	require.NoError(t, repo.Create(context.Background(), tx, m))
	assert.Equal(t, int64(17), m.ID)
	assertExpectations(t, pool)
}

func TestMovementRepository_GetByIDNotFound(t *testing.T) {
	pool := newMockPool(t)
	repo := newMovementRepository(pool)

	pool.ExpectQuery("FROM movements m").WithArgs(int64(5)).WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 5)
	assert.ErrorIs(t, err, domain.ErrMovementNotFound)
	assertExpectations(t, pool)
}

func TestMovementRepository_GetByIDForUpdate(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMock(t, pool)
	repo := newMovementRepository(pool)

	created := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	cat := int64(3)
	pool.ExpectQuery(`FOR UPDATE OF m`).WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows(movementCols).AddRow(
			int64(9), "incoming", "250.00", strPtr("salary"), (*string)(nil), (*string)(nil),
			&cat, strPtr("Payroll"), strPtr("u1"), strPtr("Ada Lovelace"), (*string)(nil),
			created, created,
		))

	m, err := repo.GetByIDForUpdate(context.Background(), tx, 9)
	require.NoError(t, err)
	assert.Equal(t, domain.KindIncoming, m.Kind)
	assert.Equal(t, "250.00", m.Amount.StringFixed(2))
	assert.Equal(t, "Payroll", *m.CategoryName)
	assert.Equal(t, "Ada Lovelace", *m.RecordedByName)
	assertExpectations(t, pool)
}

func TestMovementRepository_UpdateAndDeleteMissing(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMock(t, pool)
	repo := newMovementRepository(pool)

	pool.ExpectExec("UPDATE movements SET").
		WithArgs(int64(4), "incoming", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	pool.ExpectExec("DELETE FROM movements").WithArgs(int64(4)).WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.Update(context.Background(), tx, &domain.Movement{ID: 4, Kind: domain.KindIncoming, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrMovementNotFound)

	err = repo.Delete(context.Background(), tx, 4)
	assert.ErrorIs(t, err, domain.ErrMovementNotFound)
	assertExpectations(t, pool)
}

func TestMovementRepository_ListBuildsFilters(t *testing.T) {
	pool := newMockPool(t)
	repo := newMovementRepository(pool)

	kind := domain.KindOutgoing
	created := time.Date(2024, 4, 2, 9, 30, 0, 0, time.UTC)

	cols := append(append([]string{}, movementCols...), "balance")
	pool.ExpectQuery(`SUM\(CASE WHEN m.kind = 'incoming'.*OVER \(ORDER BY m.created_at, m.id\).*m.kind = \$1.*ILIKE.*ORDER BY m.amount ASC.*LIMIT \$3 OFFSET \$4`).
		WithArgs("outgoing", "rent", 10, 20).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			int64(2), "outgoing", "300.00", (*string)(nil), (*string)(nil), strPtr("Landlord"),
			(*int64)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil),
			created, created, "700.00",
		))

	got, err := repo.List(context.Background(), domain.MovementFilter{
		Kind:          &kind,
		Search:        "rent",
		SortBy:        domain.SortByAmount,
		SortAscending: true,
		Limit:         10,
		Offset:        20,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Movement.ID)
	assert.Equal(t, "700.00", got[0].RunningBalance.StringFixed(2))
	assertExpectations(t, pool)
}

func TestMovementRepository_Count(t *testing.T) {
	pool := newMockPool(t)
	repo := newMovementRepository(pool)

	pool.ExpectQuery(`SELECT COUNT\(\*\) FROM movements m.*WHERE c.name = \$1`).
		WithArgs("Sales").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))

	n, err := repo.Count(context.Background(), domain.MovementFilter{CategoryName: "Sales"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assertExpectations(t, pool)
}

func TestLedgerRepository_LockAndUpdate(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMock(t, pool)
	repo := newLedgerRepository(pool)

	at := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	pool.ExpectQuery(`FROM ledger_state WHERE id = 1 FOR UPDATE`).
		WillReturnRows(pgxmock.NewRows([]string{"balance", "movement_count", "version", "updated_at"}).
			AddRow("1000.00", int64(2), int64(7), at))
	pool.ExpectQuery(`WHERE m.id <> \$1`).WithArgs(int64(0)).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow("1000.00"))
	pool.ExpectExec("UPDATE ledger_state").
		WithArgs(pgxmock.AnyArg(), int64(3), int64(8), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	state, err := repo.LockForUpdate(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", state.Balance.StringFixed(2))

	baseline, err := repo.BalanceExcluding(context.Background(), tx, 0)
	require.NoError(t, err)
	assert.True(t, baseline.Equal(decimal.NewFromInt(1000)))

	state.Apply(decimal.NewFromInt(900), 1, at)
	require.NoError(t, repo.UpdateState(context.Background(), tx, state))
	assertExpectations(t, pool)
}

func TestLedgerRepository_Aggregate(t *testing.T) {
	pool := newMockPool(t)
	repo := newLedgerRepository(pool)

	asOf := time.Date(2024, 4, 30, 23, 59, 59, 0, time.UTC)
	pool.ExpectQuery(`FILTER \(WHERE m.kind = 'incoming'\).*WHERE m.created_at <= \$1`).
		WithArgs(asOf).
		WillReturnRows(pgxmock.NewRows([]string{"incoming", "outgoing", "count"}).
			AddRow("1500.50", "400.25", int64(6)))

	agg, err := repo.Aggregate(context.Background(), &asOf)
	require.NoError(t, err)
	assert.Equal(t, "1100.25", agg.Balance.StringFixed(2))
	assert.Equal(t, int64(6), agg.Count)
	assertExpectations(t, pool)
}

func TestLedgerRepository_RunningBalanceAt(t *testing.T) {
	pool := newMockPool(t)
	repo := newLedgerRepository(pool)

	at := time.Date(2024, 4, 3, 12, 0, 0, 0, time.UTC)
	pool.ExpectQuery(`\(m.created_at, m.id\) <= \(\$1, \$2\)`).
		WithArgs(at, int64(12)).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow("42.00"))

	got, err := repo.RunningBalanceAt(context.Background(), at, 12)
	require.NoError(t, err)
	assert.Equal(t, "42.00", got.StringFixed(2))
	assertExpectations(t, pool)
}

func TestAuditRepository_CreateAndList(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMock(t, pool)
	repo := newAuditRepository(pool)

	at := time.Date(2024, 4, 3, 12, 0, 0, 0, time.UTC)
	entry := &domain.AuditEntry{
		MovementID: 12,
		Action:     domain.AuditActionUpdated,
		Snapshot:   domain.Snapshot{Kind: domain.KindIncoming, Amount: "700.00"},
		Changes: domain.Changes{
			domain.FieldAmount: {Old: strPtr("500.00"), New: strPtr("700.00")},
		},
		PerformedBy: strPtr("u1"),
		CreatedAt:   at,
	}

	pool.ExpectQuery("INSERT INTO audit_log").
		WithArgs(int64(12), "updated", pgxmock.AnyArg(), pgxmock.AnyArg(), entry.PerformedBy, at).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(99)))

	require.NoError(t, repo.CreateTx(context.Background(), tx, entry))
	assert.Equal(t, int64(99), entry.ID)

	movementID := int64(12)
	pool.ExpectQuery(`FROM audit_log a.*WHERE a.movement_id = \$1.*ORDER BY a.created_at DESC, a.id DESC`).
		WithArgs(movementID, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "movement_id", "action", "snapshot", "changes", "performed_by", "name", "created_at"}).
			AddRow(int64(99), int64(12), "updated",
				[]byte(`{"kind":"incoming","amount":"700.00","description":null,"reference":null,"counterparty":null,"category_id":null,"category_name":null}`),
				[]byte(`{"amount":{"old":"500.00","new":"700.00"}}`),
				strPtr("u1"), strPtr("Ada Lovelace"), at))

	entries, err := repo.List(context.Background(), domain.AuditFilter{MovementID: &movementID, Limit: 50})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "700.00", entries[0].Snapshot.Amount)
	assert.Equal(t, "500.00", *entries[0].Changes[domain.FieldAmount].Old)
	assert.Equal(t, "Ada Lovelace", *entries[0].PerformedByName)
	assertExpectations(t, pool)
}

func TestAuditRepository_Stats(t *testing.T) {
	pool := newMockPool(t)
	repo := newAuditRepository(pool)

	pool.ExpectQuery(`GROUP BY a.action`).
		WillReturnRows(pgxmock.NewRows([]string{"action", "count"}).
			AddRow("created", int64(4)).
			AddRow("deleted", int64(1)))

	stats, err := repo.Stats(context.Background(), domain.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, domain.AuditStats{Total: 5, Created: 4, Deleted: 1}, stats)
	assertExpectations(t, pool)
}

func TestOutboxRepository(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMock(t, pool)
	repo := newOutboxRepository(pool)

	at := time.Date(2024, 4, 3, 12, 0, 0, 0, time.UTC)
	pool.ExpectExec("INSERT INTO outbox_events").
		WithArgs("evt-1", "12", domain.AggregateTypeMovement, domain.EventTypeMovementCreated, pgxmock.AnyArg(), at, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), tx, &domain.OutboxEvent{
		ID:            "evt-1",
		AggregateID:   "12",
		AggregateType: domain.AggregateTypeMovement,
		EventType:     domain.EventTypeMovementCreated,
		Payload:       domain.JSON{"movement_id": 12},
		CreatedAt:     at,
	}))

	pool.ExpectQuery("WHERE NOT published").WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "aggregate_id", "aggregate_type", "event_type", "payload", "created_at", "published_at", "published"}).
			AddRow("evt-1", "12", domain.AggregateTypeMovement, domain.EventTypeMovementCreated, []byte(`{"movement_id":12}`), at, (*time.Time)(nil), false))

	events, err := repo.GetUnpublished(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, float64(12), events[0].Payload["movement_id"])

	pool.ExpectExec("UPDATE outbox_events SET published = TRUE").WithArgs("evt-1", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.MarkPublished(context.Background(), "evt-1", at))
	assertExpectations(t, pool)
}

func TestCategoryRepository_NotFound(t *testing.T) {
	pool := newMockPool(t)
	repo := &CategoryRepository{db: pool}

	pool.ExpectQuery("FROM categories WHERE id").WithArgs(int64(8)).WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 8)
	assert.ErrorIs(t, err, domain.ErrCategoryNotFound)
	assertExpectations(t, pool)
}

func TestUserDirectory_DisplayName(t *testing.T) {
	pool := newMockPool(t)
	dir := &UserDirectory{db: pool}

	pool.ExpectQuery("FROM users").WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "first_name", "last_name", "role"}).
			AddRow("u1", "ops@example.com", "", "", "operator"))

	name, err := dir.DisplayName(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", name)
	assertExpectations(t, pool)
}

func TestInTxRejectsForeignTransactions(t *testing.T) {
	_, err := inTx(fakeTx{})
	if err == nil {
		t.Fatal("expected error for non-postgres transaction")
	}
	if errors.Is(err, domain.ErrPersistence) {
		t.Fatal("inTx must not classify errors")
	}
}

type fakeTx struct{}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }
