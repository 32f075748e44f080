package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/usecase"
)

// AuditRepository implements usecase.AuditRepository. It only appends.
type AuditRepository struct {
	store *Store
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(store *Store) *AuditRepository {
	return &AuditRepository{store: store}
}

// CreateTx appends an entry within tx.
func (r *AuditRepository) CreateTx(ctx context.Context, tx usecase.Transaction, entry *domain.AuditEntry) error {
	st, err := stateOf(tx)
	if err != nil {
		return err
	}

	st.nextAuditID++
	entry.ID = st.nextAuditID
	st.audit = append(st.audit, entry.Clone())
	return nil
}

// List returns matching entries, newest first.
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, error) {
	var out []*domain.AuditEntry
	r.store.read(func(st *state) {
		matched := r.filter(st, filter)
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := matched[i], matched[j]
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		})
		out = page(matched, filter.Limit, filter.Offset)
	})
	return out, nil
}

// Count returns how many entries match filter.
func (r *AuditRepository) Count(ctx context.Context, filter domain.AuditFilter) (int64, error) {
	var n int64
	r.store.read(func(st *state) { n = int64(len(r.filter(st, filter))) })
	return n, nil
}

// Stats counts matching entries per action.
func (r *AuditRepository) Stats(ctx context.Context, filter domain.AuditFilter) (domain.AuditStats, error) {
	var stats domain.AuditStats
	r.store.read(func(st *state) {
		for _, e := range r.filter(st, filter) {
			stats.Add(e.Action, 1)
		}
	})
	return stats, nil
}

// filter returns copies of matching entries. Callers must hold the read lock.
func (r *AuditRepository) filter(st *state, f domain.AuditFilter) []*domain.AuditEntry {
	var out []*domain.AuditEntry
	for _, e := range st.audit {
		if f.MovementID != nil && e.MovementID != *f.MovementID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.PerformedBy != "" && (e.PerformedBy == nil || !strings.EqualFold(*e.PerformedBy, f.PerformedBy)) {
			continue
		}
		if !within(e.CreatedAt, f.From, f.To) {
			continue
		}

		cp := e.Clone()
		if cp.PerformedBy != nil {
			if u, ok := r.store.users[*cp.PerformedBy]; ok {
				name := u.DisplayName()
				cp.PerformedByName = &name
			}
		}
		out = append(out, cp)
	}
	return out
}
