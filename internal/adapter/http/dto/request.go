package dto

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/usecase"
)

// CreateMovementRequest records a movement. Kind accepts "incoming",
// "outgoing" and the legacy "recette"/"depense" labels.
type CreateMovementRequest struct {
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	Description  *string         `json:"description,omitempty"`
	Reference    *string         `json:"reference,omitempty"`
	Counterparty *string         `json:"counterparty,omitempty"`
	CategoryID   *int64          `json:"category_id,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateMovementRequest) ToUseCaseInput() (usecase.CreateMovementInput, error) {
	kind, err := domain.ParseKind(r.Kind)
	if err != nil {
		return usecase.CreateMovementInput{}, err
	}
	return usecase.CreateMovementInput{
		Kind:         kind,
		Amount:       r.Amount,
		Description:  r.Description,
		Reference:    r.Reference,
		Counterparty: r.Counterparty,
		CategoryID:   r.CategoryID,
	}, nil
}

// UpdateMovementRequest amends a movement. Absent fields are left alone,
// an empty string clears a text field and "category_id": null clears the
// category.
type UpdateMovementRequest struct {
	Kind         *string          `json:"kind,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Description  *string          `json:"description,omitempty"`
	Reference    *string          `json:"reference,omitempty"`
	Counterparty *string          `json:"counterparty,omitempty"`
	CategoryID   OptionalInt64    `json:"category_id"`
}

// ToUseCaseInput converts to use case input.
func (r *UpdateMovementRequest) ToUseCaseInput(id int64) (usecase.UpdateMovementInput, error) {
	input := usecase.UpdateMovementInput{
		ID:           id,
		Amount:       r.Amount,
		Description:  r.Description,
		Reference:    r.Reference,
		Counterparty: r.Counterparty,
	}

	if r.Kind != nil {
		kind, err := domain.ParseKind(*r.Kind)
		if err != nil {
			return usecase.UpdateMovementInput{}, err
		}
		input.Kind = &kind
	}

	if r.CategoryID.Set {
		if r.CategoryID.Value == nil {
			input.ClearCategory = true
		} else {
			input.CategoryID = r.CategoryID.Value
		}
	}

	return input, nil
}

// OptionalInt64 tells an absent field apart from an explicit null.
type OptionalInt64 struct {
	Set   bool
	Value *int64
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptionalInt64) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return domain.NewValidationError("category_id", "must be an integer or null")
	}
	o.Value = &v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (o OptionalInt64) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}
