package usecase

import (
	"context"

	"github.com/iho/cashledger/internal/domain"
)

// AuditUseCase reads the append-only audit log.
type AuditUseCase struct {
	auditRepo AuditRepository
}

// NewAuditUseCase creates a new AuditUseCase.
func NewAuditUseCase(auditRepo AuditRepository) *AuditUseCase {
	return &AuditUseCase{auditRepo: auditRepo}
}

// QueryAuditLog returns entries matching filter, newest first.
func (uc *AuditUseCase) QueryAuditLog(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, error) {
	if err := validateAuditFilter(filter); err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = domain.ValidatePagination(filter.Limit, filter.Offset)
	return uc.auditRepo.List(ctx, filter)
}

// CountAuditLog returns how many entries match filter, ignoring pagination.
func (uc *AuditUseCase) CountAuditLog(ctx context.Context, filter domain.AuditFilter) (int64, error) {
	if err := validateAuditFilter(filter); err != nil {
		return 0, err
	}
	return uc.auditRepo.Count(ctx, filter)
}

// Stats counts entries matching filter per action.
func (uc *AuditUseCase) Stats(ctx context.Context, filter domain.AuditFilter) (domain.AuditStats, error) {
	if err := validateAuditFilter(filter); err != nil {
		return domain.AuditStats{}, err
	}
	return uc.auditRepo.Stats(ctx, filter)
}

// MovementHistory returns the full history of one movement, newest first.
// It keeps working after the movement itself was deleted.
func (uc *AuditUseCase) MovementHistory(ctx context.Context, movementID int64) ([]*domain.AuditEntry, error) {
	return uc.QueryAuditLog(ctx, domain.AuditFilter{
		MovementID: &movementID,
		Limit:      domain.MaxPageSize,
	})
}

func validateAuditFilter(filter domain.AuditFilter) error {
	if filter.Action != "" && !filter.Action.IsValid() {
		return domain.NewValidationError("action", "must be created, updated or deleted")
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.NewValidationError("date_to", "must not be before date_from")
	}
	return nil
}
