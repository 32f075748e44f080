package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/usecase"
)

// MovementRepository implements usecase.MovementRepository.
type MovementRepository struct {
	store *Store
}

// NewMovementRepository creates a new MovementRepository.
func NewMovementRepository(store *Store) *MovementRepository {
	return &MovementRepository{store: store}
}

// Create assigns the next id and stores the movement.
func (r *MovementRepository) Create(ctx context.Context, tx usecase.Transaction, movement *domain.Movement) error {
	st, err := stateOf(tx)
	if err != nil {
		return err
	}

	st.nextMovementID++
	movement.ID = st.nextMovementID
	st.movements[movement.ID] = movement.Clone()
	return nil
}

// GetByID returns a committed movement.
func (r *MovementRepository) GetByID(ctx context.Context, id int64) (*domain.Movement, error) {
	var (
		result *domain.Movement
		err    error = domain.ErrMovementNotFound
	)
	r.store.read(func(st *state) {
		if m, ok := st.movements[id]; ok {
			result, err = r.store.resolve(m), nil
		}
	})
	return result, err
}

// GetByIDForUpdate returns a movement as seen by tx.
func (r *MovementRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id int64) (*domain.Movement, error) {
	st, err := stateOf(tx)
	if err != nil {
		return nil, err
	}

	m, ok := st.movements[id]
	if !ok {
		return nil, domain.ErrMovementNotFound
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.resolve(m), nil
}

// Update overwrites the stored movement.
func (r *MovementRepository) Update(ctx context.Context, tx usecase.Transaction, movement *domain.Movement) error {
	st, err := stateOf(tx)
	if err != nil {
		return err
	}

	if _, ok := st.movements[movement.ID]; !ok {
		return domain.ErrMovementNotFound
	}
	st.movements[movement.ID] = movement.Clone()
	return nil
}

// Delete removes a movement.
func (r *MovementRepository) Delete(ctx context.Context, tx usecase.Transaction, id int64) error {
	st, err := stateOf(tx)
	if err != nil {
		return err
	}

	if _, ok := st.movements[id]; !ok {
		return domain.ErrMovementNotFound
	}
	delete(st.movements, id)
	return nil
}

// List returns matching movements with their running balance.
func (r *MovementRepository) List(ctx context.Context, filter domain.MovementFilter) ([]*domain.MovementWithBalance, error) {
	var result []*domain.MovementWithBalance

	r.store.read(func(st *state) {
		all := r.resolveAll(st)
		running := domain.RunningBalances(all)

		matched := make([]*domain.Movement, 0, len(all))
		for _, m := range all {
			if matches(m, filter) {
				matched = append(matched, m)
			}
		}
		sortForListing(matched, filter)

		for _, m := range page(matched, filter.Limit, filter.Offset) {
			result = append(result, &domain.MovementWithBalance{Movement: m, RunningBalance: running[m.ID]})
		}
	})

	return result, nil
}

// Count returns how many movements match filter.
func (r *MovementRepository) Count(ctx context.Context, filter domain.MovementFilter) (int64, error) {
	var n int64
	r.store.read(func(st *state) {
		for _, m := range r.resolveAll(st) {
			if matches(m, filter) {
				n++
			}
		}
	})
	return n, nil
}

// ListRange returns movements created within [from, to] in canonical order.
func (r *MovementRepository) ListRange(ctx context.Context, from, to time.Time) ([]*domain.Movement, error) {
	var result []*domain.Movement
	r.store.read(func(st *state) {
		for _, m := range r.resolveAll(st) {
			if !m.CreatedAt.Before(from) && !m.CreatedAt.After(to) {
				result = append(result, m)
			}
		}
	})
	domain.SortCanonical(result)
	return result, nil
}

func (r *MovementRepository) resolveAll(st *state) []*domain.Movement {
	all := make([]*domain.Movement, 0, len(st.movements))
	for _, m := range st.movements {
		all = append(all, r.store.resolve(m))
	}
	return all
}

func matches(m *domain.Movement, f domain.MovementFilter) bool {
	if f.Kind != nil && m.Kind != *f.Kind {
		return false
	}
	if f.CategoryName != "" && (m.CategoryName == nil || *m.CategoryName != f.CategoryName) {
		return false
	}
	if f.Author != "" && !containsFold(m.RecordedByName, f.Author) {
		return false
	}
	if f.Search != "" &&
		!containsFold(m.Description, f.Search) &&
		!containsFold(m.Reference, f.Search) &&
		!containsFold(m.Counterparty, f.Search) &&
		!containsFold(m.CategoryName, f.Search) {
		return false
	}
	if !within(m.CreatedAt, f.CreatedFrom, f.CreatedTo) || !within(m.UpdatedAt, f.UpdatedFrom, f.UpdatedTo) {
		return false
	}
	if f.MinAmount != nil && m.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && m.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	return true
}

func within(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func containsFold(s *string, sub string) bool {
	return s != nil && strings.Contains(strings.ToLower(*s), strings.ToLower(sub))
}

// sortForListing orders newest first unless asked otherwise; ties fall back
// to canonical order in the same direction.
func sortForListing(movs []*domain.Movement, f domain.MovementFilter) {
	sort.SliceStable(movs, func(i, j int) bool {
		a, b := movs[i], movs[j]
		if f.SortBy == domain.SortByAmount && !a.Amount.Equal(b.Amount) {
			if f.SortAscending {
				return a.Amount.LessThan(b.Amount)
			}
			return a.Amount.GreaterThan(b.Amount)
		}
		if f.SortAscending {
			return domain.CanonicalLess(a, b)
		}
		return domain.CanonicalLess(b, a)
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
