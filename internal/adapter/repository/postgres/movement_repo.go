package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/usecase"
)

const (
	signedAmount = `CASE WHEN m.kind = 'incoming' THEN m.amount ELSE -m.amount END`
	displayName  = `COALESCE(NULLIF(TRIM(CONCAT_WS(' ', u.first_name, u.last_name)), ''), u.email)`

	movementColumns = `m.id, m.kind, m.amount, m.description, m.reference, m.counterparty,
		m.category_id, c.name, m.recorded_by, ` + displayName + `, m.modified_by,
		m.created_at, m.updated_at`

	movementJoins = `
		LEFT JOIN categories c ON c.id = m.category_id
		LEFT JOIN users u ON u.id = m.recorded_by`
)

// MovementRepository implements usecase.MovementRepository.
type MovementRepository struct {
	db dbtx
}

// NewMovementRepository creates a new MovementRepository.
func NewMovementRepository(pool *pgxpool.Pool) *MovementRepository {
	return newMovementRepository(pool)
}

func newMovementRepository(db dbtx) *MovementRepository {
	return &MovementRepository{db: db}
}

// Create inserts a movement and sets its id.
func (r *MovementRepository) Create(ctx context.Context, tx usecase.Transaction, movement *domain.Movement) error {
	q, err := inTx(tx)
	if err != nil {
		return err
	}

	return q.QueryRow(ctx, `
		INSERT INTO movements (
			kind, amount, description, reference, counterparty,
			category_id, recorded_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		string(movement.Kind),
		movement.Amount,
		movement.Description,
		movement.Reference,
		movement.Counterparty,
		movement.CategoryID,
		movement.RecordedBy,
		movement.CreatedAt,
		movement.UpdatedAt,
	).Scan(&movement.ID)
}

// GetByID retrieves a movement by id.
func (r *MovementRepository) GetByID(ctx context.Context, id int64) (*domain.Movement, error) {
	row := r.db.QueryRow(ctx, `SELECT `+movementColumns+` FROM movements m`+movementJoins+` WHERE m.id = $1`, id)
	return scanOne(row)
}

// GetByIDForUpdate retrieves a movement and locks its row until tx ends.
func (r *MovementRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id int64) (*domain.Movement, error) {
	q, err := inTx(tx)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, `SELECT `+movementColumns+` FROM movements m`+movementJoins+` WHERE m.id = $1 FOR UPDATE OF m`, id)
	return scanOne(row)
}

// Update overwrites the mutable fields of a movement.
func (r *MovementRepository) Update(ctx context.Context, tx usecase.Transaction, movement *domain.Movement) error {
	q, err := inTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE movements SET
			kind = $2, amount = $3, description = $4, reference = $5,
			counterparty = $6, category_id = $7, modified_by = $8, updated_at = $9
		WHERE id = $1`,
		movement.ID,
		string(movement.Kind),
		movement.Amount,
		movement.Description,
		movement.Reference,
		movement.Counterparty,
		movement.CategoryID,
		movement.ModifiedBy,
		movement.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMovementNotFound
	}
	return nil
}

// Delete removes a movement.
func (r *MovementRepository) Delete(ctx context.Context, tx usecase.Transaction, id int64) error {
	q, err := inTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `DELETE FROM movements WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMovementNotFound
	}
	return nil
}

// List returns matching movements with the ledger balance right after each.
// The window runs over every movement before filters apply.
func (r *MovementRepository) List(ctx context.Context, filter domain.MovementFilter) ([]*domain.MovementWithBalance, error) {
	w := movementWhere(filter)
	query := `
		WITH running AS (
			SELECT m.id, SUM(` + signedAmount + `) OVER (ORDER BY m.created_at, m.id) AS balance
			FROM movements m
		)
		SELECT ` + movementColumns + `, running.balance
		FROM movements m
		JOIN running ON running.id = m.id` + movementJoins + w.String() + orderBy(filter)
	query += w.page(filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.MovementWithBalance
	for rows.Next() {
		mb := &domain.MovementWithBalance{}
		m, err := scanMovement(rows, &mb.RunningBalance)
		if err != nil {
			return nil, err
		}
		mb.Movement = m
		out = append(out, mb)
	}
	return out, rows.Err()
}

// Count returns how many movements match filter.
func (r *MovementRepository) Count(ctx context.Context, filter domain.MovementFilter) (int64, error) {
	w := movementWhere(filter)

	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM movements m`+movementJoins+w.String(), w.args...).Scan(&n)
	return n, err
}

// ListRange returns movements created within [from, to] in ledger order.
func (r *MovementRepository) ListRange(ctx context.Context, from, to time.Time) ([]*domain.Movement, error) {
	rows, err := r.db.Query(ctx, `SELECT `+movementColumns+` FROM movements m`+movementJoins+`
		WHERE m.created_at BETWEEN $1 AND $2
		ORDER BY m.created_at, m.id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func movementWhere(f domain.MovementFilter) *where {
	w := &where{}
	if f.Kind != nil {
		w.add("m.kind = ?", string(*f.Kind))
	}
	if f.CategoryName != "" {
		w.add("c.name = ?", f.CategoryName)
	}
	if f.Author != "" {
		w.add(displayName+" ILIKE '%' || ? || '%'", f.Author)
	}
	if f.Search != "" {
		w.add(`(m.description ILIKE '%' || ? || '%'
			OR m.reference ILIKE '%' || ? || '%'
			OR m.counterparty ILIKE '%' || ? || '%'
			OR c.name ILIKE '%' || ? || '%')`, f.Search)
	}
	if f.CreatedFrom != nil {
		w.add("m.created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		w.add("m.created_at <= ?", *f.CreatedTo)
	}
	if f.UpdatedFrom != nil {
		w.add("m.updated_at >= ?", *f.UpdatedFrom)
	}
	if f.UpdatedTo != nil {
		w.add("m.updated_at <= ?", *f.UpdatedTo)
	}
	if f.MinAmount != nil {
		w.add("m.amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		w.add("m.amount <= ?", *f.MaxAmount)
	}
	return w
}

func orderBy(f domain.MovementFilter) string {
	dir := " DESC"
	if f.SortAscending {
		dir = " ASC"
	}
	if f.SortBy == domain.SortByAmount {
		return " ORDER BY m.amount" + dir + ", m.created_at" + dir + ", m.id" + dir
	}
	return " ORDER BY m.created_at" + dir + ", m.id" + dir
}

func scanOne(row pgx.Row) (*domain.Movement, error) {
	m, err := scanMovement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMovementNotFound
	}
	return m, err
}

// scanMovement scans movementColumns followed by extra destinations.
func scanMovement(row pgx.Row, extra ...any) (*domain.Movement, error) {
	var (
		m    domain.Movement
		kind string
	)
	dest := []any{
		&m.ID, &kind, &m.Amount, &m.Description, &m.Reference, &m.Counterparty,
		&m.CategoryID, &m.CategoryName, &m.RecordedBy, &m.RecordedByName, &m.ModifiedBy,
		&m.CreatedAt, &m.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	m.Kind = domain.Kind(kind)
	return &m, nil
}
