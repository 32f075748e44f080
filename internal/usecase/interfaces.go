package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/cashledger/internal/domain"
)

// MovementRepository defines data access for movements.
type MovementRepository interface {
	Create(ctx context.Context, tx Transaction, movement *domain.Movement) error
	GetByID(ctx context.Context, id int64) (*domain.Movement, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id int64) (*domain.Movement, error)
	Update(ctx context.Context, tx Transaction, movement *domain.Movement) error
	Delete(ctx context.Context, tx Transaction, id int64) error
	List(ctx context.Context, filter domain.MovementFilter) ([]*domain.MovementWithBalance, error)
	Count(ctx context.Context, filter domain.MovementFilter) (int64, error)
	ListRange(ctx context.Context, from, to time.Time) ([]*domain.Movement, error)
}

// LedgerRepository defines data access for ledger-wide totals.
type LedgerRepository interface {
	// LockForUpdate locks the ledger state row until tx ends.
	LockForUpdate(ctx context.Context, tx Transaction) (*domain.LedgerState, error)
	// BalanceExcluding sums every movement except excludeID inside tx.
	BalanceExcluding(ctx context.Context, tx Transaction, excludeID int64) (decimal.Decimal, error)
	UpdateState(ctx context.Context, tx Transaction, state *domain.LedgerState) error
	State(ctx context.Context) (*domain.LedgerState, error)
	Aggregate(ctx context.Context, asOf *time.Time) (domain.Aggregate, error)
	RunningBalanceAt(ctx context.Context, createdAt time.Time, id int64) (decimal.Decimal, error)
}

// AuditRepository defines data access for the append-only audit log.
type AuditRepository interface {
	CreateTx(ctx context.Context, tx Transaction, entry *domain.AuditEntry) error
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, error)
	Count(ctx context.Context, filter domain.AuditFilter) (int64, error)
	Stats(ctx context.Context, filter domain.AuditFilter) (domain.AuditStats, error)
}

// CategoryLookup resolves category references.
type CategoryLookup interface {
	GetByID(ctx context.Context, id int64) (*domain.Category, error)
	List(ctx context.Context) ([]*domain.Category, error)
}

// IdentityDirectory resolves acting identities to display names.
type IdentityDirectory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	DeletePublished(ctx context.Context, before time.Time) error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Retrier re-runs a unit of work on transient conflicts.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache defines caching operations.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops a key so the request can be retried.
	Release(ctx context.Context, key string) error
}

// IdempotencyPending is the value held by a claimed key until the first
// request finishes.
const IdempotencyPending = "processing"
