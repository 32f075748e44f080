package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// Event types
const (
	EventTypeMovementCreated = "movement.created"
	EventTypeMovementUpdated = "movement.updated"
	EventTypeMovementDeleted = "movement.deleted"
)

// AggregateTypeMovement is the aggregate type of every ledger event.
const AggregateTypeMovement = "movement"

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       JSON
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// JSON is a generic JSON object.
type JSON map[string]any

// MovementEvent is the payload of every movement event.
type MovementEvent struct {
	MovementID  int64   `json:"movement_id"`
	Action      string  `json:"action"`
	Kind        Kind    `json:"kind"`
	Amount      string  `json:"amount"`
	Balance     string  `json:"balance"`
	PerformedBy *string `json:"performed_by"`
	EventAt     string  `json:"event_at"`
}

// NewMovementEvent builds the outbox event for a committed mutation.
func NewMovementEvent(id string, action AuditAction, m *Movement, balance string, performedBy *string, at time.Time) *OutboxEvent {
	eventType := EventTypeMovementCreated
	switch action {
	case AuditActionUpdated:
		eventType = EventTypeMovementUpdated
	case AuditActionDeleted:
		eventType = EventTypeMovementDeleted
	}

	return &OutboxEvent{
		ID:            id,
		AggregateID:   strconv.FormatInt(m.ID, 10),
		AggregateType: AggregateTypeMovement,
		EventType:     eventType,
		Payload: MarshalState(MovementEvent{
			MovementID:  m.ID,
			Action:      string(action),
			Kind:        m.Kind,
			Amount:      m.Amount.StringFixed(2),
			Balance:     balance,
			PerformedBy: performedBy,
			EventAt:     at.UTC().Format(time.RFC3339Nano),
		}),
		CreatedAt: at,
	}
}

// MarshalState converts a value to a generic JSON object.
func MarshalState(v any) JSON {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return JSON{"error": "failed to marshal state"}
	}

	var result JSON
	if err := json.Unmarshal(data, &result); err != nil {
		return JSON{"error": "failed to unmarshal state"}
	}

	return result
}
