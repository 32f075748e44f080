package memory

import (
	"context"
	"sort"

	"github.com/iho/cashledger/internal/domain"
)

// CategoryRepository implements usecase.CategoryLookup.
type CategoryRepository struct {
	store *Store
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(store *Store) *CategoryRepository {
	return &CategoryRepository{store: store}
}

// GetByID returns a category.
func (r *CategoryRepository) GetByID(ctx context.Context, id int64) (*domain.Category, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	c, ok := r.store.categories[id]
	if !ok {
		return nil, domain.ErrCategoryNotFound
	}
	cp := *c
	return &cp, nil
}

// List returns all categories ordered by name.
func (r *CategoryRepository) List(ctx context.Context) ([]*domain.Category, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*domain.Category, 0, len(r.store.categories))
	for _, c := range r.store.categories {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UserDirectory implements usecase.IdentityDirectory.
type UserDirectory struct {
	store *Store
}

// NewUserDirectory creates a new UserDirectory.
func NewUserDirectory(store *Store) *UserDirectory {
	return &UserDirectory{store: store}
}

// DisplayName returns the user's display name.
func (d *UserDirectory) DisplayName(ctx context.Context, userID string) (string, error) {
	d.store.mu.RLock()
	defer d.store.mu.RUnlock()

	u, ok := d.store.users[userID]
	if !ok {
		return "", domain.ErrUnauthorized
	}
	return u.DisplayName(), nil
}
