package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/cashledger/internal/adapter/http/dto"
	"github.com/iho/cashledger/internal/adapter/http/handler"
	apimiddleware "github.com/iho/cashledger/internal/adapter/http/middleware"
	"github.com/iho/cashledger/internal/adapter/repository/memory"
	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/infrastructure/auth"
	"github.com/iho/cashledger/internal/infrastructure/metrics"
	"github.com/iho/cashledger/internal/usecase"
)

type testServer struct {
	router http.Handler
	store  *memory.Store
	jwt    *auth.JWTManager
}

func newTestServer(t *testing.T, opts ...func(*RouterConfig)) *testServer {
	t.Helper()

	store := memory.NewStore()
	store.AddCategory(&domain.Category{ID: 1, Name: "Sales", Color: "#00AA00"})
	for _, u := range []*domain.User{
		{ID: "u-admin", FirstName: "Ada", LastName: "Admin", Role: domain.RoleAdmin},
		{ID: "u-op", FirstName: "Otto", LastName: "Operator", Role: domain.RoleOperator},
		{ID: "u-view", Email: "viewer@example.com", Role: domain.RoleViewer},
	} {
		store.AddUser(u)
	}

	movements := memory.NewMovementRepository(store)
	audit := memory.NewAuditRepository(store)
	ledger := memory.NewLedgerRepository(store)
	categories := memory.NewCategoryRepository(store)

	ledgerUC := usecase.NewLedgerUseCase(usecase.LedgerDeps{
		TxManager:  memory.NewTxManager(store),
		Movements:  movements,
		Audit:      audit,
		Ledger:     ledger,
		Categories: categories,
		Identities: memory.NewUserDirectory(store),
		Logger:     zerolog.Nop(),
	})
	balanceUC := usecase.NewBalanceUseCase(movements, ledger, categories, nil, 0, nil, zerolog.Nop())

	jwtManager := auth.NewJWTManager("test-secret", time.Hour)

	cfg := RouterConfig{
		MovementHandler: handler.NewMovementHandler(ledgerUC, balanceUC),
		ReportHandler:   handler.NewReportHandler(balanceUC),
		AuditHandler:    handler.NewAuditHandler(usecase.NewAuditUseCase(audit)),
		LedgerHandler:   handler.NewLedgerHandler(usecase.NewReconciliationUseCase(ledger)),
		HealthHandler:   handler.NewHealthHandler(),
		JWTManager:      jwtManager,
		Logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testServer{router: NewRouter(cfg), store: store, jwt: jwtManager}
}

func (s *testServer) do(t *testing.T, userID, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		roles := map[string]domain.Role{"u-admin": domain.RoleAdmin, "u-op": domain.RoleOperator, "u-view": domain.RoleViewer}
		token, err := s.jwt.Generate(&domain.User{ID: userID, Role: roles[userID]})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestNewRouter_HealthEndpointAvailable(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, "", http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to return 200, got %d", rec.Code)
	}
}

func TestNewRouter_ReadinessReportsFailingCheck(t *testing.T) {
	srv := newTestServer(t, func(cfg *RouterConfig) {
		cfg.HealthHandler = handler.NewHealthHandler(
			handler.HealthCheck{Name: "postgres", Check: func(ctx context.Context) error { return nil }},
			handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return context.DeadlineExceeded }},
		)
	})

	rec := srv.do(t, "", http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["postgres"])
	assert.Equal(t, "unavailable", body["status"])
}

func TestNewRouter_RateLimiterBlocksExcessRequests(t *testing.T) {
	rl := apimiddleware.NewRateLimiter(1, 1, nil)
	srv := newTestServer(t, func(cfg *RouterConfig) {
		cfg.RateLimiter = rl
	})

	req1 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req1.RemoteAddr = "1.2.3.4:1234"
	rec1 := httptest.NewRecorder()
	srv.router.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req2.RemoteAddr = "1.2.3.4:1234"
	rec2 := httptest.NewRecorder()
	srv.router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestNewRouter_IdempotencyMiddlewareInvokesStore(t *testing.T) {
	store := &stubIdempotencyStore{}
	srv := newTestServer(t, func(cfg *RouterConfig) {
		cfg.IdempotencyStore = store
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/movements", strings.NewReader(`{"kind":"incoming","amount":"10"}`))
	token, err := srv.jwt.Generate(&domain.User{ID: "u-op", Role: domain.RoleOperator})
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(apimiddleware.IdempotencyKeyHeader, "key-123")
	rec := httptest.NewRecorder()

	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !store.checkCalled || !store.updateCalled {
		t.Fatalf("expected idempotency store to be used")
	}
}

func TestNewRouter_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := newTestServer(t, func(cfg *RouterConfig) {
		cfg.Metrics = metrics.NewWithRegisterer(reg)
		cfg.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	})

	srv.do(t, "", http.MethodGet, "/health", "")
	rec := srv.do(t, "", http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cashledger_http_requests_total")
}

func TestNewRouter_RegistersKeyRoutes(t *testing.T) {
	srv := newTestServer(t)

	chiRoutes, ok := srv.router.(chi.Router)
	if !ok {
		t.Fatal("router does not implement chi.Routes")
	}

	seen := map[string]bool{}
	if err := chi.Walk(chiRoutes, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		seen[method+" "+route] = true
		return nil
	}); err != nil {
		t.Fatalf("walk failed: %v", err)
	}

	expected := []string{
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"POST /api/v1/movements",
		"GET /api/v1/movements",
		"GET /api/v1/movements/{id}",
		"PATCH /api/v1/movements/{id}",
		"DELETE /api/v1/movements/{id}",
		"GET /api/v1/movements/{id}/audit",
		"GET /api/v1/balance",
		"GET /api/v1/stats",
		"GET /api/v1/stats/dashboard",
		"GET /api/v1/analytics",
		"GET /api/v1/audit",
		"GET /api/v1/audit/stats",
		"GET /api/v1/ledger/consistency",
	}

	for _, route := range expected {
		if !seen[route] {
			t.Fatalf("expected route %s to be registered", route)
		}
	}
}

func TestNewRouter_RoleGating(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		user   string
		method string
		path   string
		body   string
		want   int
	}{
		{"anonymous read", "", http.MethodGet, "/api/v1/balance", "", http.StatusUnauthorized},
		{"viewer read", "u-view", http.MethodGet, "/api/v1/balance", "", http.StatusOK},
		{"viewer write", "u-view", http.MethodPost, "/api/v1/movements", `{"kind":"incoming","amount":"5"}`, http.StatusForbidden},
		{"operator write", "u-op", http.MethodPost, "/api/v1/movements", `{"kind":"incoming","amount":"5"}`, http.StatusCreated},
		{"operator delete", "u-op", http.MethodDelete, "/api/v1/movements/1", "", http.StatusForbidden},
		{"admin delete", "u-admin", http.MethodDelete, "/api/v1/movements/1", "", http.StatusNoContent},
	}

	for _, tt := range tests {
		rec := srv.do(t, tt.user, tt.method, tt.path, tt.body)
		if rec.Code != tt.want {
			t.Fatalf("%s: expected %d, got %d: %s", tt.name, tt.want, rec.Code, rec.Body.String())
		}
	}
}

func TestNewRouter_MovementLifecycle(t *testing.T) {
	srv := newTestServer(t)

	// Record
	rec := srv.do(t, "u-op", http.MethodPost, "/api/v1/movements",
		`{"kind":"recette","amount":"100","description":"  Opening float ","category_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created dto.MovementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "incoming", created.Kind)
	assert.Equal(t, "100.00", created.Amount)
	require.NotNil(t, created.RunningBalance)
	assert.Equal(t, "100.00", *created.RunningBalance)
	require.NotNil(t, created.Description)
	assert.Equal(t, "Opening float", *created.Description)
	require.NotNil(t, created.CategoryName)
	assert.Equal(t, "Sales", *created.CategoryName)

	// Overdraw is refused with both amounts
	rec = srv.do(t, "u-op", http.MethodPost, "/api/v1/movements", `{"kind":"outgoing","amount":"150"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var rejection dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejection))
	assert.Equal(t, "INSUFFICIENT_BALANCE", rejection.Code)
	assert.Equal(t, "150.00", *rejection.Attempted)
	assert.Equal(t, "100.00", *rejection.Available)

	// Validation failures name the field
	rec = srv.do(t, "u-op", http.MethodPost, "/api/v1/movements", `{"kind":"incoming","amount":"-1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rejection))
	assert.Equal(t, "amount", rejection.Field)

	// Amend and clear the category
	rec = srv.do(t, "u-admin", http.MethodPatch, "/api/v1/movements/1", `{"amount":"80","category_id":null}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated dto.MovementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "80.00", updated.Amount)
	assert.Nil(t, updated.CategoryID)
	require.NotNil(t, updated.ModifiedBy)
	assert.Equal(t, "u-admin", *updated.ModifiedBy)

	rec = srv.do(t, "u-view", http.MethodGet, "/api/v1/balance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var balance dto.AggregateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.Equal(t, "80.00", balance.Balance)
	assert.Equal(t, int64(1), balance.Count)

	// Delete keeps the history
	rec = srv.do(t, "u-admin", http.MethodDelete, "/api/v1/movements/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, "u-view", http.MethodGet, "/api/v1/movements/1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, "u-view", http.MethodGet, "/api/v1/movements/1/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var history []dto.AuditEntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 3)
	assert.Equal(t, "deleted", history[0].Action)
	assert.Equal(t, "updated", history[1].Action)
	assert.Equal(t, "created", history[2].Action)
	require.Contains(t, history[1].Changes, "amount")
	assert.Equal(t, "100.00", *history[1].Changes["amount"].Old)
	assert.Equal(t, "80.00", *history[1].Changes["amount"].New)
	assert.Contains(t, history[1].Changes, "category")
	require.NotNil(t, history[0].Snapshot.RecordedByName)
	assert.Equal(t, "Otto Operator", *history[0].Snapshot.RecordedByName)

	rec = srv.do(t, "u-view", http.MethodGet, "/api/v1/audit/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats dto.AuditStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, dto.AuditStatsResponse{Total: 3, Created: 1, Updated: 1, Deleted: 1}, stats)

	rec = srv.do(t, "u-view", http.MethodGet, "/api/v1/ledger/consistency", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestNewRouter_ListMovementsWithRunningBalance(t *testing.T) {
	srv := newTestServer(t)

	for _, body := range []string{
		`{"kind":"incoming","amount":"50"}`,
		`{"kind":"outgoing","amount":"20","description":"Paper"}`,
		`{"kind":"incoming","amount":"5"}`,
	} {
		rec := srv.do(t, "u-op", http.MethodPost, "/api/v1/movements", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := srv.do(t, "u-view", http.MethodGet, "/api/v1/movements?ordering=created_at", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page dto.ListResponse[dto.MovementResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Data, 3)
	assert.Equal(t, int64(3), page.Total)

	var balances []string
	for _, m := range page.Data {
		balances = append(balances, *m.RunningBalance)
	}
	assert.Equal(t, []string{"50.00", "30.00", "35.00"}, balances)

	// Filters narrow rows but keep ledger-wide running balances
	rec = srv.do(t, "u-view", http.MethodGet, "/api/v1/movements?kind=outgoing&search=paper", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "30.00", *page.Data[0].RunningBalance)

	rec = srv.do(t, "u-view", http.MethodGet, "/api/v1/movements?min_amount=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewRouter_WithoutAuthAllowsAnonymousWrites(t *testing.T) {
	srv := newTestServer(t, func(cfg *RouterConfig) {
		cfg.JWTManager = nil
	})

	rec := srv.do(t, "", http.MethodPost, "/api/v1/movements", `{"kind":"incoming","amount":"1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created dto.MovementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Nil(t, created.RecordedBy)
}

type stubIdempotencyStore struct {
	checkCalled  bool
	updateCalled bool
}

func (s *stubIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	s.checkCalled = true
	return false, nil, nil
}

func (s *stubIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	s.updateCalled = true
	return nil
}

func (s *stubIdempotencyStore) Release(ctx context.Context, key string) error {
	return nil
}
