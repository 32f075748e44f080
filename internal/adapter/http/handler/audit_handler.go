package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/iho/cashledger/internal/adapter/http/dto"
	"github.com/iho/cashledger/internal/domain"
)

// AuditService defines the behavior needed by AuditHandler.
type AuditService interface {
	QueryAuditLog(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, error)
	CountAuditLog(ctx context.Context, filter domain.AuditFilter) (int64, error)
	Stats(ctx context.Context, filter domain.AuditFilter) (domain.AuditStats, error)
	MovementHistory(ctx context.Context, movementID int64) ([]*domain.AuditEntry, error)
}

// AuditHandler exposes the audit log read-only.
type AuditHandler struct {
	auditUC AuditService
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(auditUC AuditService) *AuditHandler {
	return &AuditHandler{auditUC: auditUC}
}

// List returns audit entries matching the query filters, newest first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	entries, err := h.auditUC.QueryAuditLog(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	total, err := h.auditUC.CountAuditLog(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	limit, offset := domain.ValidatePagination(filter.Limit, filter.Offset)
	writeJSON(w, http.StatusOK, dto.ListResponse[*dto.AuditEntryResponse]{
		Data:   dto.AuditEntriesFromDomain(entries),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Stats counts audit entries per action.
func (h *AuditHandler) Stats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	stats, err := h.auditUC.Stats(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AuditStatsFromDomain(stats))
}

// MovementHistory returns every audit entry of one movement, including
// after it was deleted.
func (h *AuditHandler) MovementHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	entries, err := h.auditUC.MovementHistory(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.AuditEntriesFromDomain(entries))
}

func parseAuditFilter(r *http.Request) (domain.AuditFilter, error) {
	q := r.URL.Query()
	filter := domain.AuditFilter{
		Action:      domain.AuditAction(strings.ToLower(strings.TrimSpace(q.Get("action")))),
		PerformedBy: strings.TrimSpace(q.Get("performed_by")),
		Limit:       parseIntQuery(r, "limit", domain.DefaultPageSize),
		Offset:      parseIntQuery(r, "offset", 0),
	}

	if raw := q.Get("movement_id"); raw != "" {
		id, err := parseInt64(raw)
		if err != nil {
			return filter, domain.NewValidationError("movement_id", "must be a positive integer")
		}
		filter.MovementID = &id
	}

	var err error
	if filter.From, err = parseTimeQuery(r, "date_from", false); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeQuery(r, "date_to", true); err != nil {
		return filter, err
	}

	return filter, nil
}
