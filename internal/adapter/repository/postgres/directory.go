package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/cashledger/internal/domain"
)

// CategoryRepository implements usecase.CategoryLookup.
type CategoryRepository struct {
	db dbtx
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(pool *pgxpool.Pool) *CategoryRepository {
	return &CategoryRepository{db: pool}
}

// GetByID retrieves a category by id.
func (r *CategoryRepository) GetByID(ctx context.Context, id int64) (*domain.Category, error) {
	var c domain.Category
	err := r.db.QueryRow(ctx, `SELECT id, name, color FROM categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Color)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCategoryNotFound
		}
		return nil, err
	}
	return &c, nil
}

// List returns all categories ordered by name.
func (r *CategoryRepository) List(ctx context.Context) ([]*domain.Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, color FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Color); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// UserDirectory implements usecase.IdentityDirectory.
type UserDirectory struct {
	db dbtx
}

// NewUserDirectory creates a new UserDirectory.
func NewUserDirectory(pool *pgxpool.Pool) *UserDirectory {
	return &UserDirectory{db: pool}
}

// GetByID retrieves a user by id.
func (d *UserDirectory) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var (
		u    domain.User
		role string
	)
	err := d.db.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, role
		FROM users
		WHERE id = $1`, id).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}

// DisplayName returns the user's display name.
func (d *UserDirectory) DisplayName(ctx context.Context, userID string) (string, error) {
	u, err := d.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.DisplayName(), nil
}
