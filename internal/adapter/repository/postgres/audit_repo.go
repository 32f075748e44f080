package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/usecase"
)

// AuditRepository implements the append-only audit log. The table rejects
// UPDATE and DELETE through a trigger, so entries can only be added.
type AuditRepository struct {
	db dbtx
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return newAuditRepository(pool)
}

func newAuditRepository(db dbtx) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateTx inserts an entry within tx.
func (r *AuditRepository) CreateTx(ctx context.Context, tx usecase.Transaction, entry *domain.AuditEntry) error {
	q, err := inTx(tx)
	if err != nil {
		return err
	}

	snapshot, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	var changes []byte
	if len(entry.Changes) > 0 {
		if changes, err = json.Marshal(entry.Changes); err != nil {
			return fmt.Errorf("marshal changes: %w", err)
		}
	}

	return q.QueryRow(ctx, `
		INSERT INTO audit_log (movement_id, action, snapshot, changes, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		entry.MovementID,
		string(entry.Action),
		snapshot,
		changes,
		entry.PerformedBy,
		entry.CreatedAt,
	).Scan(&entry.ID)
}

// List retrieves audit entries with filtering, newest first.
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, error) {
	w := auditWhere(filter)
	query := `
		SELECT a.id, a.movement_id, a.action, a.snapshot, a.changes,
		       a.performed_by, ` + displayName + `, a.created_at
		FROM audit_log a
		LEFT JOIN users u ON u.id = a.performed_by` + w.String() + `
		ORDER BY a.created_at DESC, a.id DESC`
	query += w.page(filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var (
			e                 domain.AuditEntry
			action            string
			snapshot, changes []byte
		)
		if err := rows.Scan(&e.ID, &e.MovementID, &action, &snapshot, &changes,
			&e.PerformedBy, &e.PerformedByName, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Action = domain.AuditAction(action)
		if err := json.Unmarshal(snapshot, &e.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot of audit entry %d: %w", e.ID, err)
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Changes); err != nil {
				return nil, fmt.Errorf("decode changes of audit entry %d: %w", e.ID, err)
			}
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// Count returns how many entries match filter.
func (r *AuditRepository) Count(ctx context.Context, filter domain.AuditFilter) (int64, error) {
	w := auditWhere(filter)

	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log a`+w.String(), w.args...).Scan(&n)
	return n, err
}

// Stats counts matching entries per action.
func (r *AuditRepository) Stats(ctx context.Context, filter domain.AuditFilter) (domain.AuditStats, error) {
	w := auditWhere(filter)

	rows, err := r.db.Query(ctx, `SELECT a.action, COUNT(*) FROM audit_log a`+w.String()+` GROUP BY a.action`, w.args...)
	if err != nil {
		return domain.AuditStats{}, err
	}
	defer rows.Close()

	var stats domain.AuditStats
	for rows.Next() {
		var (
			action string
			n      int64
		)
		if err := rows.Scan(&action, &n); err != nil {
			return domain.AuditStats{}, err
		}
		stats.Add(domain.AuditAction(action), n)
	}
	return stats, rows.Err()
}

func auditWhere(f domain.AuditFilter) *where {
	w := &where{}
	if f.MovementID != nil {
		w.add("a.movement_id = ?", *f.MovementID)
	}
	if f.Action != "" {
		w.add("a.action = ?", string(f.Action))
	}
	if f.PerformedBy != "" {
		w.add("a.performed_by = ?", f.PerformedBy)
	}
	if f.From != nil {
		w.add("a.created_at >= ?", *f.From)
	}
	if f.To != nil {
		w.add("a.created_at <= ?", *f.To)
	}
	return w
}
