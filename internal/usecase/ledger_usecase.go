package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/infrastructure/metrics"
)

// LedgerDeps holds the collaborators of LedgerUseCase. Retrier, Outbox,
// Identities, Cache and Metrics are optional.
type LedgerDeps struct {
	TxManager  TransactionManager
	Movements  MovementRepository
	Audit      AuditRepository
	Ledger     LedgerRepository
	Categories CategoryLookup
	Identities IdentityDirectory
	Outbox     OutboxRepository
	IDGen      IDGenerator
	Retrier    Retrier
	Cache      Cache
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	Clock      func() time.Time // defaults to time.Now
}

// LedgerUseCase records, amends and deletes movements. Each operation is
// one unit of work: validate, persist and audit commit together or not at all.
type LedgerUseCase struct {
	txManager  TransactionManager
	movements  MovementRepository
	audit      AuditRepository
	ledger     LedgerRepository
	categories CategoryLookup
	identities IdentityDirectory
	outbox     OutboxRepository
	idGen      IDGenerator
	retrier    Retrier
	cache      Cache
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	clock      func() time.Time
}

// NewLedgerUseCase creates a new LedgerUseCase.
func NewLedgerUseCase(deps LedgerDeps) *LedgerUseCase {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &LedgerUseCase{
		txManager:  deps.TxManager,
		movements:  deps.Movements,
		audit:      deps.Audit,
		ledger:     deps.Ledger,
		categories: deps.Categories,
		identities: deps.Identities,
		outbox:     deps.Outbox,
		idGen:      deps.IDGen,
		retrier:    deps.Retrier,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		clock:      clock,
	}
}

// now returns the write timestamp at the precision the store keeps
// (microseconds), so returned movements and events match the stored rows.
func (uc *LedgerUseCase) now() time.Time {
	return uc.clock().UTC().Truncate(time.Microsecond)
}

// CreateMovementInput represents input for recording a movement.
type CreateMovementInput struct {
	Kind         domain.Kind
	Amount       decimal.Decimal
	Description  *string
	Reference    *string
	Counterparty *string
	CategoryID   *int64
}

// UpdateMovementInput represents a partial update. Nil fields are left
// unchanged; a pointer to an empty string clears a text field.
type UpdateMovementInput struct {
	ID            int64
	Kind          *domain.Kind
	Amount        *decimal.Decimal
	Description   *string
	Reference     *string
	Counterparty  *string
	CategoryID    *int64
	ClearCategory bool
}

// result of one committed unit of work
type committed struct {
	movement *domain.Movement
	balance  decimal.Decimal
	audited  bool
}

// CreateMovement records a new movement.
func (uc *LedgerUseCase) CreateMovement(ctx context.Context, input CreateMovementInput) (*domain.Movement, error) {
	start := time.Now()

	movement := &domain.Movement{
		Kind:         input.Kind,
		Amount:       input.Amount,
		Description:  domain.NormalizeText(input.Description),
		Reference:    domain.NormalizeText(input.Reference),
		Counterparty: domain.NormalizeText(input.Counterparty),
		CategoryID:   input.CategoryID,
	}
	if err := domain.ValidateMovement(movement); err != nil {
		uc.rejected(domain.AuditActionCreated, movement, err)
		return nil, err
	}

	actor := domain.ActorID(ctx)

	var result committed
	err := uc.retry(ctx, func() error {
		var err error
		result, err = uc.create(ctx, movement.Clone(), actor)
		return err
	})
	if err != nil {
		uc.rejected(domain.AuditActionCreated, movement, err)
		return nil, err
	}

	uc.afterCommit(ctx, domain.AuditActionCreated, result, start)
	return result.movement, nil
}

func (uc *LedgerUseCase) create(ctx context.Context, movement *domain.Movement, actor *string) (committed, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return committed{}, domain.NewPersistenceError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	state, err := uc.ledger.LockForUpdate(txCtx, tx)
	if err != nil {
		return committed{}, domain.NewPersistenceError("lock ledger", err)
	}

	if err := uc.resolveCategory(txCtx, movement); err != nil {
		return committed{}, err
	}

	baseline, err := uc.ledger.BalanceExcluding(txCtx, tx, 0)
	if err != nil {
		return committed{}, domain.NewPersistenceError("compute balance", err)
	}
	if err := domain.CheckNonNegative(movement.Kind, movement.Amount, baseline); err != nil {
		return committed{}, err
	}

	now := uc.now()
	movement.RecordedBy = actor
	movement.ModifiedBy = nil
	movement.CreatedAt = now
	movement.UpdatedAt = now

	if err := uc.movements.Create(txCtx, tx, movement); err != nil {
		return committed{}, domain.NewPersistenceError("insert movement", err)
	}

	entry := &domain.AuditEntry{
		MovementID:  movement.ID,
		Action:      domain.AuditActionCreated,
		Snapshot:    domain.SnapshotOf(movement),
		PerformedBy: actor,
		CreatedAt:   now,
	}
	if err := uc.writeAudit(txCtx, tx, entry); err != nil {
		return committed{}, err
	}

	balance := baseline.Add(movement.SignedAmount())
	if err := uc.finish(txCtx, tx, state, balance, 1, domain.AuditActionCreated, movement, actor, now); err != nil {
		return committed{}, err
	}

	return committed{movement: movement, balance: balance, audited: true}, nil
}

// UpdateMovement amends an existing movement.
func (uc *LedgerUseCase) UpdateMovement(ctx context.Context, input UpdateMovementInput) (*domain.Movement, error) {
	start := time.Now()

	if err := validateUpdate(input); err != nil {
		uc.rejected(domain.AuditActionUpdated, nil, err)
		return nil, err
	}

	actor := domain.ActorID(ctx)

	var result committed
	err := uc.retry(ctx, func() error {
		var err error
		result, err = uc.update(ctx, input, actor)
		return err
	})
	if err != nil {
		uc.rejected(domain.AuditActionUpdated, nil, err)
		return nil, err
	}

	uc.afterCommit(ctx, domain.AuditActionUpdated, result, start)
	return result.movement, nil
}

func (uc *LedgerUseCase) update(ctx context.Context, input UpdateMovementInput, actor *string) (committed, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return committed{}, domain.NewPersistenceError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	state, err := uc.ledger.LockForUpdate(txCtx, tx)
	if err != nil {
		return committed{}, domain.NewPersistenceError("lock ledger", err)
	}

	current, err := uc.movements.GetByIDForUpdate(txCtx, tx, input.ID)
	if err != nil {
		return committed{}, domain.NewPersistenceError("load movement", err)
	}
	before := domain.SnapshotOf(current)

	movement := current.Clone()
	applyUpdate(movement, input)
	if err := domain.ValidateMovement(movement); err != nil {
		return committed{}, err
	}
	if err := uc.resolveCategory(txCtx, movement); err != nil {
		return committed{}, err
	}

	baseline, err := uc.ledger.BalanceExcluding(txCtx, tx, movement.ID)
	if err != nil {
		return committed{}, domain.NewPersistenceError("compute balance", err)
	}
	if err := domain.CheckNonNegative(movement.Kind, movement.Amount, baseline); err != nil {
		return committed{}, err
	}

	now := uc.now()
	movement.ModifiedBy = actor
	movement.UpdatedAt = now

	if err := uc.movements.Update(txCtx, tx, movement); err != nil {
		return committed{}, domain.NewPersistenceError("update movement", err)
	}

	changes := domain.Diff(before, domain.SnapshotOf(movement))
	if len(changes) > 0 {
		entry := &domain.AuditEntry{
			MovementID:  movement.ID,
			Action:      domain.AuditActionUpdated,
			Snapshot:    domain.SnapshotOf(movement),
			Changes:     changes,
			PerformedBy: actor,
			CreatedAt:   now,
		}
		if err := uc.writeAudit(txCtx, tx, entry); err != nil {
			return committed{}, err
		}
	}

	balance := baseline.Add(movement.SignedAmount())
	if err := uc.finish(txCtx, tx, state, balance, 0, domain.AuditActionUpdated, movement, actor, now); err != nil {
		return committed{}, err
	}

	return committed{movement: movement, balance: balance, audited: len(changes) > 0}, nil
}

// DeleteMovement removes a movement. Its last state survives in the audit log.
func (uc *LedgerUseCase) DeleteMovement(ctx context.Context, id int64) error {
	start := time.Now()

	if id <= 0 {
		err := domain.NewValidationError("id", "must be positive")
		uc.rejected(domain.AuditActionDeleted, nil, err)
		return err
	}

	actor := domain.ActorID(ctx)

	var result committed
	err := uc.retry(ctx, func() error {
		var err error
		result, err = uc.delete(ctx, id, actor)
		return err
	})
	if err != nil {
		uc.rejected(domain.AuditActionDeleted, nil, err)
		return err
	}

	uc.afterCommit(ctx, domain.AuditActionDeleted, result, start)
	return nil
}

func (uc *LedgerUseCase) delete(ctx context.Context, id int64, actor *string) (committed, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return committed{}, domain.NewPersistenceError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	state, err := uc.ledger.LockForUpdate(txCtx, tx)
	if err != nil {
		return committed{}, domain.NewPersistenceError("lock ledger", err)
	}

	movement, err := uc.movements.GetByIDForUpdate(txCtx, tx, id)
	if err != nil {
		return committed{}, domain.NewPersistenceError("load movement", err)
	}

	// The snapshot must be complete before the row disappears.
	uc.resolveRecorder(txCtx, movement)
	snapshot := domain.DeletionSnapshotOf(movement)

	baseline, err := uc.ledger.BalanceExcluding(txCtx, tx, movement.ID)
	if err != nil {
		return committed{}, domain.NewPersistenceError("compute balance", err)
	}

	if err := uc.movements.Delete(txCtx, tx, movement.ID); err != nil {
		return committed{}, domain.NewPersistenceError("delete movement", err)
	}

	now := uc.now()
	entry := &domain.AuditEntry{
		MovementID:  movement.ID,
		Action:      domain.AuditActionDeleted,
		Snapshot:    snapshot,
		PerformedBy: actor,
		CreatedAt:   now,
	}
	if err := uc.writeAudit(txCtx, tx, entry); err != nil {
		return committed{}, err
	}

	if err := uc.finish(txCtx, tx, state, baseline, -1, domain.AuditActionDeleted, movement, actor, now); err != nil {
		return committed{}, err
	}

	return committed{movement: movement, balance: baseline, audited: true}, nil
}

// finish updates the ledger state, enqueues the outbox event and commits.
func (uc *LedgerUseCase) finish(
	ctx context.Context,
	tx Transaction,
	state *domain.LedgerState,
	balance decimal.Decimal,
	countDelta int64,
	action domain.AuditAction,
	movement *domain.Movement,
	actor *string,
	now time.Time,
) error {
	state.Apply(balance, countDelta, now)
	if err := uc.ledger.UpdateState(ctx, tx, state); err != nil {
		return domain.NewPersistenceError("update ledger state", err)
	}

	if uc.outbox != nil && uc.idGen != nil {
		event := domain.NewMovementEvent(uc.idGen.Generate(), action, movement, balance.StringFixed(2), actor, now)
		if err := uc.outbox.Create(ctx, tx, event); err != nil {
			return domain.NewPersistenceError("enqueue event", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.NewPersistenceError("commit", err)
	}
	return nil
}

func (uc *LedgerUseCase) writeAudit(ctx context.Context, tx Transaction, entry *domain.AuditEntry) error {
	if err := uc.audit.CreateTx(ctx, tx, entry); err != nil {
		return &domain.AuditWriteError{MovementID: entry.MovementID, Action: entry.Action, Err: err}
	}
	return nil
}

// resolveCategory checks the category reference and fills in its name.
func (uc *LedgerUseCase) resolveCategory(ctx context.Context, movement *domain.Movement) error {
	if movement.CategoryID == nil {
		movement.CategoryName = nil
		return nil
	}

	category, err := uc.categories.GetByID(ctx, *movement.CategoryID)
	if err != nil {
		if errors.Is(err, domain.ErrCategoryNotFound) {
			return domain.NewValidationError("category_id", "category does not exist")
		}
		return domain.NewPersistenceError("load category", err)
	}

	name := category.Name
	movement.CategoryName = &name
	return nil
}

// resolveRecorder fills in the recorder's display name when the store did
// not. Lookup failures leave the name empty rather than blocking the delete.
func (uc *LedgerUseCase) resolveRecorder(ctx context.Context, movement *domain.Movement) {
	if movement.RecordedBy == nil || movement.RecordedByName != nil || uc.identities == nil {
		return
	}

	name, err := uc.identities.DisplayName(ctx, *movement.RecordedBy)
	if err != nil {
		uc.logger.Warn().Err(err).Int64("movement_id", movement.ID).Msg("could not resolve recorder name")
		return
	}
	movement.RecordedByName = &name
}

func (uc *LedgerUseCase) retry(ctx context.Context, op func() error) error {
	if uc.retrier == nil {
		return op()
	}
	return uc.retrier.Retry(ctx, op)
}

func (uc *LedgerUseCase) afterCommit(ctx context.Context, action domain.AuditAction, result committed, start time.Time) {
	if uc.cache != nil {
		if err := uc.cache.Delete(ctx, AggregateCacheKey); err != nil {
			uc.logger.Warn().Err(err).Msg("failed to invalidate aggregate cache")
		}
	}

	if uc.metrics != nil {
		kind := string(result.movement.Kind)
		uc.metrics.MovementsRecorded.WithLabelValues(string(action), kind).Inc()
		uc.metrics.UnitOfWorkLatency.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
		uc.metrics.LedgerBalance.Set(result.balance.InexactFloat64())
		if action != domain.AuditActionDeleted {
			uc.metrics.MovementAmount.WithLabelValues(kind).Observe(result.movement.Amount.InexactFloat64())
		}
		if result.audited {
			uc.metrics.AuditEntriesCreated.WithLabelValues(string(action)).Inc()
		}
	}

	uc.logger.Info().
		Str("action", string(action)).
		Int64("movement_id", result.movement.ID).
		Str("kind", string(result.movement.Kind)).
		Str("amount", result.movement.Amount.StringFixed(2)).
		Str("balance", result.balance.StringFixed(2)).
		Bool("audited", result.audited).
		Msg("movement committed")
}

func (uc *LedgerUseCase) rejected(action domain.AuditAction, movement *domain.Movement, err error) {
	reason := ErrorReason(err)

	if uc.metrics != nil {
		uc.metrics.MovementRejected.WithLabelValues(string(action), reason).Inc()
	}

	event := uc.logger.Warn()
	if !domain.IsClientError(err) {
		event = uc.logger.Error()
	}
	event = event.Err(err).Str("action", string(action)).Str("reason", reason)
	if movement != nil {
		event = event.Str("kind", string(movement.Kind)).Str("amount", movement.Amount.String())
	}
	event.Msg("movement rejected")
}

// ErrorReason classifies err into a short label for metrics and logs.
func ErrorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrMovementNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, domain.ErrAuditWrite):
		return "audit_write"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "other"
	}
}

func validateUpdate(input UpdateMovementInput) error {
	if input.ID <= 0 {
		return domain.NewValidationError("id", "must be positive")
	}
	if input.Kind != nil {
		if err := domain.ValidateKind(*input.Kind); err != nil {
			return err
		}
	}
	if input.Amount != nil {
		if err := domain.ValidateAmount(*input.Amount); err != nil {
			return err
		}
	}
	if input.ClearCategory && input.CategoryID != nil {
		return domain.NewValidationError("category_id", "cannot set and clear the category at once")
	}
	return nil
}

func applyUpdate(m *domain.Movement, input UpdateMovementInput) {
	if input.Kind != nil {
		m.Kind = *input.Kind
	}
	if input.Amount != nil {
		m.Amount = *input.Amount
	}
	if input.Description != nil {
		m.Description = domain.NormalizeText(input.Description)
	}
	if input.Reference != nil {
		m.Reference = domain.NormalizeText(input.Reference)
	}
	if input.Counterparty != nil {
		m.Counterparty = domain.NormalizeText(input.Counterparty)
	}
	if input.ClearCategory {
		m.CategoryID = nil
	} else if input.CategoryID != nil {
		id := *input.CategoryID
		m.CategoryID = &id
	}
}
