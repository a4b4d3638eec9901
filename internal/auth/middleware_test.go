package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubUsers struct {
	ownerID int64
	err     error
}

func (s stubUsers) ResolveOrCreate(context.Context, string, string) (int64, error) {
	return s.ownerID, s.err
}

func TestMiddlewareNoAuthHeaderPassesThrough(t *testing.T) {
	logger := slog.Default()
	var gotIdentity *Identity
	handler := Middleware(NewDevVerifier(), stubUsers{ownerID: 1}, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotIdentity != nil {
		t.Fatalf("expected no identity, got %+v", gotIdentity)
	}
}

func TestMiddlewareDevVerifierAuthenticates(t *testing.T) {
	logger := slog.Default()
	var gotIdentity *Identity
	handler := Middleware(NewDevVerifier(), stubUsers{ownerID: 42}, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer alice:alice@example.com:admin")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotIdentity == nil || gotIdentity.OwnerID != 42 || gotIdentity.Role != RoleAdmin {
		t.Fatalf("unexpected identity: %+v", gotIdentity)
	}
}
