package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func withIdentity(r *http.Request, id *Identity) *http.Request {
	return r.WithContext(NewContext(r.Context(), id))
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("no identity", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("with identity", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withIdentity(httptest.NewRequest("GET", "/", nil), &Identity{Subject: "u1", Role: RoleOperator})
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}

func TestRequireMinRole(t *testing.T) {
	handler := RequireMinRole(RoleOperator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name string
		role string
		want int
	}{
		{"admin passes", RoleAdmin, http.StatusOK},
		{"operator passes", RoleOperator, http.StatusOK},
		{"readonly rejected", RoleReadonly, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := withIdentity(httptest.NewRequest("GET", "/", nil), &Identity{Subject: "u1", Role: tt.role})
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
