package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/infrastructure/metrics"
)

// BalanceUseCase answers read-only questions about the ledger. It never
// touches the audit log and never takes the ledger lock.
type BalanceUseCase struct {
	movements  MovementRepository
	ledger     LedgerRepository
	categories CategoryLookup
	cache      Cache
	cacheTTL   time.Duration
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// NewBalanceUseCase creates a new BalanceUseCase. cache and m may be nil.
func NewBalanceUseCase(
	movements MovementRepository,
	ledger LedgerRepository,
	categories CategoryLookup,
	cache Cache,
	cacheTTL time.Duration,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *BalanceUseCase {
	if cacheTTL <= 0 {
		cacheTTL = DefaultAggregateCacheTTL
	}
	return &BalanceUseCase{
		movements:  movements,
		ledger:     ledger,
		categories: categories,
		cache:      cache,
		cacheTTL:   cacheTTL,
		metrics:    m,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ComputeAggregate returns totals and balance of all movements created at
// or before asOf, or of the whole ledger when asOf is nil.
// Cached aggregates carry the ledger version they were computed at and
// are served only while that version is current.
func (uc *BalanceUseCase) ComputeAggregate(ctx context.Context, asOf *time.Time) (domain.Aggregate, error) {
	if asOf != nil || uc.cache == nil {
		return uc.ledger.Aggregate(ctx, asOf)
	}

	state, err := uc.ledger.State(ctx)
	if err != nil {
		uc.logger.Warn().Err(err).Msg("ledger state unavailable, bypassing aggregate cache")
		return uc.ledger.Aggregate(ctx, nil)
	}

	if agg, ok := uc.cachedAggregate(ctx, state.Version); ok {
		return agg, nil
	}

	agg, err := uc.ledger.Aggregate(ctx, nil)
	if err != nil {
		return domain.Aggregate{}, err
	}

	data, err := json.Marshal(versionedAggregate{Version: state.Version, Aggregate: agg})
	if err == nil {
		if err := uc.cache.Set(ctx, AggregateCacheKey, data, uc.cacheTTL); err != nil {
			uc.logger.Warn().Err(err).Msg("failed to cache aggregate")
		}
	}

	return agg, nil
}

type versionedAggregate struct {
	Version   int64            `json:"version"`
	Aggregate domain.Aggregate `json:"aggregate"`
}

func (uc *BalanceUseCase) cachedAggregate(ctx context.Context, version int64) (domain.Aggregate, bool) {
	data, err := uc.cache.Get(ctx, AggregateCacheKey)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			uc.logger.Warn().Err(err).Msg("aggregate cache lookup failed")
		}
		uc.countLookup("miss")
		return domain.Aggregate{}, false
	}

	var cached versionedAggregate
	if err := json.Unmarshal(data, &cached); err != nil || cached.Version != version {
		uc.countLookup("miss")
		return domain.Aggregate{}, false
	}

	uc.countLookup("hit")
	return cached.Aggregate, true
}

func (uc *BalanceUseCase) countLookup(result string) {
	if uc.metrics != nil {
		uc.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

// ListWithRunningBalance lists movements matching filter, each paired with
// the ledger balance right after it. Filters narrow the rows, never the
// balance computation.
func (uc *BalanceUseCase) ListWithRunningBalance(ctx context.Context, filter domain.MovementFilter) ([]*domain.MovementWithBalance, error) {
	filter.Limit, filter.Offset = domain.ValidatePagination(filter.Limit, filter.Offset)
	if filter.SortBy == "" {
		filter.SortBy = domain.SortByCreatedAt
	}
	if filter.SortBy != domain.SortByCreatedAt && filter.SortBy != domain.SortByAmount {
		return nil, domain.NewValidationError("ordering", "must be created_at or amount")
	}
	return uc.movements.List(ctx, filter)
}

// CountMovements returns how many movements match filter, ignoring pagination.
func (uc *BalanceUseCase) CountMovements(ctx context.Context, filter domain.MovementFilter) (int64, error) {
	return uc.movements.Count(ctx, filter)
}

// GetMovement returns one movement with its running balance.
func (uc *BalanceUseCase) GetMovement(ctx context.Context, id int64) (*domain.MovementWithBalance, error) {
	movement, err := uc.movements.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	balance, err := uc.ledger.RunningBalanceAt(ctx, movement.CreatedAt, movement.ID)
	if err != nil {
		return nil, err
	}

	return &domain.MovementWithBalance{Movement: movement, RunningBalance: balance}, nil
}

// DashboardStats holds today's activity next to the all-time aggregate.
type DashboardStats struct {
	Today   domain.Aggregate
	Overall domain.Aggregate
}

// Dashboard returns today's (UTC) totals and the current aggregate.
func (uc *BalanceUseCase) Dashboard(ctx context.Context) (*DashboardStats, error) {
	now := uc.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	today, err := uc.movements.ListRange(ctx, startOfDay, now)
	if err != nil {
		return nil, err
	}

	overall, err := uc.ComputeAggregate(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &DashboardStats{
		Today:   domain.ComputeAggregate(today, nil),
		Overall: overall,
	}, nil
}

// Analytics summarises movements created between from and to. Missing
// bounds default to the last thirty days.
func (uc *BalanceUseCase) Analytics(ctx context.Context, from, to *time.Time) (*domain.Analytics, error) {
	end := uc.now()
	start := end.Add(-DefaultAnalyticsWindow)
	if from != nil && to != nil {
		start, end = from.UTC(), to.UTC()
	}
	if end.Before(start) {
		return nil, domain.NewValidationError("date_to", "must not be before date_from")
	}

	movements, err := uc.movements.ListRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	colors := map[string]string{}
	if uc.categories != nil {
		categories, err := uc.categories.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range categories {
			colors[c.Name] = c.Color
		}
	}

	overall, err := uc.ComputeAggregate(ctx, nil)
	if err != nil {
		return nil, err
	}

	period := domain.ComputeAggregate(movements, nil)

	return &domain.Analytics{
		From:           start,
		To:             end,
		Daily:          domain.DailySeries(movements),
		Categories:     domain.CategoryBreakdown(movements, colors),
		TotalIncoming:  period.TotalIncoming,
		TotalOutgoing:  period.TotalOutgoing,
		Count:          period.Count,
		CurrentBalance: overall.Balance,
		ProfitMargin:   domain.ProfitMargin(period.TotalIncoming, period.TotalOutgoing),
	}, nil
}
