package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iho/cashledger/internal/adapter/http/dto"
	"github.com/iho/cashledger/internal/domain"
)

type auditServiceStub struct {
	filter  domain.AuditFilter
	entries []*domain.AuditEntry
}

func (s *auditServiceStub) QueryAuditLog(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditEntry, error) {
	s.filter = filter
	if filter.Action != "" && !filter.Action.IsValid() {
		return nil, domain.NewValidationError("action", "must be created, updated or deleted")
	}
	return s.entries, nil
}

func (s *auditServiceStub) CountAuditLog(ctx context.Context, filter domain.AuditFilter) (int64, error) {
	return int64(len(s.entries)), nil
}

func (s *auditServiceStub) Stats(ctx context.Context, filter domain.AuditFilter) (domain.AuditStats, error) {
	var stats domain.AuditStats
	for _, e := range s.entries {
		stats.Add(e.Action, 1)
	}
	return stats, nil
}

func (s *auditServiceStub) MovementHistory(ctx context.Context, movementID int64) ([]*domain.AuditEntry, error) {
	var out []*domain.AuditEntry
	for _, e := range s.entries {
		if e.MovementID == movementID {
			out = append(out, e)
		}
	}
	return out, nil
}

func newAuditStub() *auditServiceStub {
	actor := "u-1"
	old, updated := "10.00", "12.00"
	at := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	return &auditServiceStub{entries: []*domain.AuditEntry{
		{
			ID: 2, MovementID: 5, Action: domain.AuditActionUpdated, PerformedBy: &actor, CreatedAt: at,
			Snapshot: domain.Snapshot{Kind: domain.KindIncoming, Amount: "12.00"},
			Changes:  domain.Changes{"amount": {Old: &old, New: &updated}},
		},
		{
			ID: 1, MovementID: 5, Action: domain.AuditActionCreated, PerformedBy: &actor, CreatedAt: at.Add(-time.Hour),
			Snapshot: domain.Snapshot{Kind: domain.KindIncoming, Amount: "10.00"},
		},
	}}
}

func TestAuditHandler_List(t *testing.T) {
	stub := newAuditStub()
	h := NewAuditHandler(stub)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/audit?movement_id=5&action=Updated&performed_by=u-1&date_from=2024-03-01", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.filter.MovementID == nil || *stub.filter.MovementID != 5 || stub.filter.Action != domain.AuditActionUpdated {
		t.Fatalf("unexpected filter %+v", stub.filter)
	}
	if stub.filter.PerformedBy != "u-1" || stub.filter.From == nil {
		t.Fatalf("unexpected filter %+v", stub.filter)
	}

	var resp dto.ListResponse[dto.AuditEntryResponse]
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || *resp.Data[0].Changes["amount"].New != "12.00" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAuditHandler_ListRejectsBadInput(t *testing.T) {
	h := NewAuditHandler(newAuditStub())

	for _, query := range []string{"movement_id=abc", "action=archived", "date_to=soon"} {
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest(http.MethodGet, "/audit?"+query, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestAuditHandler_StatsAndHistory(t *testing.T) {
	h := NewAuditHandler(newAuditStub())

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/audit/stats", nil))

	var stats dto.AuditStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 2 || stats.Created != 1 || stats.Updated != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	rec = httptest.NewRecorder()
	h.MovementHistory(rec, withURLParam(httptest.NewRequest(http.MethodGet, "/movements/5/audit", nil), "id", "5"))

	var history []dto.AuditEntryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 2 || history[0].Action != "updated" {
		t.Fatalf("unexpected history %+v", history)
	}
}
