package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/infrastructure/auth"
)

func TestAuthMiddleware(t *testing.T) {
	manager := auth.NewJWTManager("secret", time.Minute)
	token, err := manager.Generate(&domain.User{ID: "u-op", Email: "op@example.com", Role: domain.RoleOperator})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *domain.User
			h := AuthMiddleware(manager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = domain.UserFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
			if tt.want == http.StatusNoContent && (seen == nil || seen.ID != "u-op") {
				t.Fatalf("expected user on context, got %+v", seen)
			}
		})
	}
}

func TestOptionalAuthLetsAnonymousThrough(t *testing.T) {
	manager := auth.NewJWTManager("secret", time.Minute)

	called := false
	h := OptionalAuth(manager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := domain.UserFromContext(r.Context())
		if ok {
			t.Fatalf("expected anonymous request")
		}
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatalf("expected handler to run")
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		user    *domain.User
		minRole domain.Role
		want    int
	}{
		{"anonymous", nil, domain.RoleViewer, http.StatusUnauthorized},
		{"viewer reads", &domain.User{ID: "v", Role: domain.RoleViewer}, domain.RoleViewer, http.StatusOK},
		{"viewer cannot write", &domain.User{ID: "v", Role: domain.RoleViewer}, domain.RoleOperator, http.StatusForbidden},
		{"operator writes", &domain.User{ID: "o", Role: domain.RoleOperator}, domain.RoleOperator, http.StatusOK},
		{"operator cannot delete", &domain.User{ID: "o", Role: domain.RoleOperator}, domain.RoleAdmin, http.StatusForbidden},
		{"admin deletes", &domain.User{ID: "a", Role: domain.RoleAdmin}, domain.RoleAdmin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireRole(tt.minRole)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/movements/1", nil)
			if tt.user != nil {
				req = req.WithContext(domain.ContextWithUser(req.Context(), tt.user))
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}
