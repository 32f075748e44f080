package domain

import (
	"time"
)

// AuditAction is the kind of mutation an audit entry records.
type AuditAction string

const (
	AuditActionCreated AuditAction = "created"
	AuditActionUpdated AuditAction = "updated"
	AuditActionDeleted AuditAction = "deleted"
)

// IsValid reports whether a is a known action.
func (a AuditAction) IsValid() bool {
	switch a {
	case AuditActionCreated, AuditActionUpdated, AuditActionDeleted:
		return true
	}
	return false
}

// AuditEntry is an immutable record of one mutation of a movement.
// Entries outlive the movement they describe.
type AuditEntry struct {
	ID              int64
	MovementID      int64
	Action          AuditAction
	Snapshot        Snapshot
	Changes         Changes
	PerformedBy     *string
	PerformedByName *string
	CreatedAt       time.Time
}

// Snapshot is a point-in-time copy of a movement as stored in the audit log.
// Amounts are kept as fixed two-decimal strings.
type Snapshot struct {
	Kind           Kind    `json:"kind"`
	Description    *string `json:"description"`
	Amount         string  `json:"amount"`
	Reference      *string `json:"reference"`
	Counterparty   *string `json:"counterparty"`
	CategoryID     *int64  `json:"category_id"`
	CategoryName   *string `json:"category_name"`
	RecordedByID   *string `json:"recorded_by_id,omitempty"`
	RecordedByName *string `json:"recorded_by_name,omitempty"`
	CreatedAt      *string `json:"created_at,omitempty"`
	UpdatedAt      *string `json:"updated_at,omitempty"`
}

// FieldChange holds the before and after value of one tracked field.
type FieldChange struct {
	Old *string `json:"old"`
	New *string `json:"new"`
}

// Changes maps a tracked field name to its change.
type Changes map[string]FieldChange

// Clone returns a deep copy of the entry. Stores hand out clones so that
// callers cannot edit recorded history.
func (e *AuditEntry) Clone() *AuditEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Snapshot = e.Snapshot.clone()
	c.Changes = e.Changes.clone()
	c.PerformedBy = cloneString(e.PerformedBy)
	c.PerformedByName = cloneString(e.PerformedByName)
	return &c
}

func (s Snapshot) clone() Snapshot {
	c := s
	c.Description = cloneString(s.Description)
	c.Reference = cloneString(s.Reference)
	c.Counterparty = cloneString(s.Counterparty)
	c.CategoryID = cloneInt64(s.CategoryID)
	c.CategoryName = cloneString(s.CategoryName)
	c.RecordedByID = cloneString(s.RecordedByID)
	c.RecordedByName = cloneString(s.RecordedByName)
	c.CreatedAt = cloneString(s.CreatedAt)
	c.UpdatedAt = cloneString(s.UpdatedAt)
	return c
}

func (c Changes) clone() Changes {
	if c == nil {
		return nil
	}
	out := make(Changes, len(c))
	for field, change := range c {
		out[field] = FieldChange{Old: cloneString(change.Old), New: cloneString(change.New)}
	}
	return out
}

// SnapshotOf captures the fields recorded on create and update.
func SnapshotOf(m *Movement) Snapshot {
	return Snapshot{
		Kind:         m.Kind,
		Description:  cloneString(m.Description),
		Amount:       m.Amount.StringFixed(2),
		Reference:    cloneString(m.Reference),
		Counterparty: cloneString(m.Counterparty),
		CategoryID:   cloneInt64(m.CategoryID),
		CategoryName: cloneString(m.CategoryName),
	}
}

// DeletionSnapshotOf captures everything needed to reconstruct a deleted
// movement: the recorder and both timestamps on top of SnapshotOf.
func DeletionSnapshotOf(m *Movement) Snapshot {
	s := SnapshotOf(m)
	s.RecordedByID = cloneString(m.RecordedBy)
	s.RecordedByName = cloneString(m.RecordedByName)
	created := m.CreatedAt.UTC().Format(time.RFC3339Nano)
	updated := m.UpdatedAt.UTC().Format(time.RFC3339Nano)
	s.CreatedAt = &created
	s.UpdatedAt = &updated
	return s
}

// AuditFilter defines filters for querying audit entries.
type AuditFilter struct {
	MovementID  *int64
	Action      AuditAction
	PerformedBy string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// AuditStats counts audit entries per action.
type AuditStats struct {
	Total   int64
	Created int64
	Updated int64
	Deleted int64
}

// Add increments the counter for action by n.
func (s *AuditStats) Add(action AuditAction, n int64) {
	switch action {
	case AuditActionCreated:
		s.Created += n
	case AuditActionUpdated:
		s.Updated += n
	case AuditActionDeleted:
		s.Deleted += n
	}
	s.Total += n
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
