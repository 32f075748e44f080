package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iho/cashledger/internal/adapter/http/dto"
	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/usecase"
)

// MovementWriter defines the mutations needed by MovementHandler.
type MovementWriter interface {
	CreateMovement(ctx context.Context, input usecase.CreateMovementInput) (*domain.Movement, error)
	UpdateMovement(ctx context.Context, input usecase.UpdateMovementInput) (*domain.Movement, error)
	DeleteMovement(ctx context.Context, id int64) error
}

// MovementReader defines the queries needed by MovementHandler.
type MovementReader interface {
	ListWithRunningBalance(ctx context.Context, filter domain.MovementFilter) ([]*domain.MovementWithBalance, error)
	CountMovements(ctx context.Context, filter domain.MovementFilter) (int64, error)
	GetMovement(ctx context.Context, id int64) (*domain.MovementWithBalance, error)
}

// MovementHandler handles movement-related HTTP requests.
type MovementHandler struct {
	writer MovementWriter
	reader MovementReader
}

// NewMovementHandler creates a new MovementHandler.
func NewMovementHandler(writer MovementWriter, reader MovementReader) *MovementHandler {
	return &MovementHandler{writer: writer, reader: reader}
}

// Create records a new movement.
func (h *MovementHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	input, err := req.ToUseCaseInput()
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	movement, err := h.writer.CreateMovement(r.Context(), input)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.respondWithBalance(w, r, http.StatusCreated, movement)
}

// Get retrieves a movement with its running balance.
func (h *MovementHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	movement, err := h.reader.GetMovement(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.MovementWithBalanceFromDomain(movement))
}

// List lists movements matching the query filters.
func (h *MovementHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseMovementFilter(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	movements, err := h.reader.ListWithRunningBalance(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	total, err := h.reader.CountMovements(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	limit, offset := domain.ValidatePagination(filter.Limit, filter.Offset)
	writeJSON(w, http.StatusOK, dto.ListResponse[*dto.MovementResponse]{
		Data:   dto.MovementsWithBalanceFromDomain(movements),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Update amends an existing movement.
func (h *MovementHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var req dto.UpdateMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	input, err := req.ToUseCaseInput(id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	movement, err := h.writer.UpdateMovement(r.Context(), input)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	h.respondWithBalance(w, r, http.StatusOK, movement)
}

// Delete removes a movement. Its audit history is kept.
func (h *MovementHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := h.writer.DeleteMovement(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondWithBalance re-reads the movement so the response carries its
// running balance. The write already committed, so a failed read still
// answers with the plain movement.
func (h *MovementHandler) respondWithBalance(w http.ResponseWriter, r *http.Request, status int, movement *domain.Movement) {
	withBalance, err := h.reader.GetMovement(r.Context(), movement.ID)
	if err != nil {
		writeJSON(w, status, dto.MovementFromDomain(movement))
		return
	}
	writeJSON(w, status, dto.MovementWithBalanceFromDomain(withBalance))
}

// parseMovementFilter reads the listing filters from the query string.
// ordering takes a field name, prefixed with "-" for descending order.
func parseMovementFilter(r *http.Request) (domain.MovementFilter, error) {
	q := r.URL.Query()
	filter := domain.MovementFilter{
		CategoryName: strings.TrimSpace(q.Get("category")),
		Author:       strings.TrimSpace(q.Get("author")),
		Search:       strings.TrimSpace(q.Get("search")),
		Limit:        parseIntQuery(r, "limit", domain.DefaultPageSize),
		Offset:       parseIntQuery(r, "offset", 0),
	}

	if raw := q.Get("kind"); raw != "" {
		kind, err := domain.ParseKind(raw)
		if err != nil {
			return filter, err
		}
		filter.Kind = &kind
	}

	var err error
	if filter.CreatedFrom, err = parseTimeQuery(r, "created_from", false); err != nil {
		return filter, err
	}
	if filter.CreatedTo, err = parseTimeQuery(r, "created_to", true); err != nil {
		return filter, err
	}
	if filter.UpdatedFrom, err = parseTimeQuery(r, "updated_from", false); err != nil {
		return filter, err
	}
	if filter.UpdatedTo, err = parseTimeQuery(r, "updated_to", true); err != nil {
		return filter, err
	}

	if filter.MinAmount, err = parseDecimalQuery(r, "min_amount"); err != nil {
		return filter, err
	}
	if filter.MaxAmount, err = parseDecimalQuery(r, "max_amount"); err != nil {
		return filter, err
	}

	ordering := q.Get("ordering")
	filter.SortAscending = ordering != "" && !strings.HasPrefix(ordering, "-")
	filter.SortBy = domain.SortField(strings.TrimPrefix(ordering, "-"))

	return filter, nil
}

func parseDecimalQuery(r *http.Request, key string) (*decimal.Decimal, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, domain.NewValidationError(key, "must be a decimal number")
	}
	return &d, nil
}
