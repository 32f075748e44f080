package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking the ledger lock
	DefaultTransactionTimeout = 10 * time.Second

	// DefaultAggregateCacheTTL is how long the ledger aggregate stays cached
	DefaultAggregateCacheTTL = 30 * time.Second

	// AggregateCacheKey is the cache key of the all-time aggregate
	AggregateCacheKey = "ledger:aggregate"

	// DefaultAnalyticsWindow is the range used when no dates are given
	DefaultAnalyticsWindow = 30 * 24 * time.Hour

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour
)
