package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CoderRahul01/unideploy/pkg/sandbox"
)

func TestClientCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("cloning repo\n"))
		w.Write([]byte("building image\n"))
		w.Write([]byte(`{"id":"sbx-123","status":"running","url":"http://sbx-123.example"}`))
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key")

	var lines []string
	req := sandbox.CreateRequest{
		ImageTag: "unideploy/1:1",
		Tier:     sandbox.TierSeed,
		OnStdout: func(l string) { lines = append(lines, l) },
	}
	inst, err := client.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if inst.ID != "sbx-123" || inst.Status != "running" {
		t.Fatalf("unexpected instance: %+v", inst)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d streamed lines, want 2: %v", len(lines), lines)
	}
}

func TestClientKillNotFoundIsOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key")
	if err := client.Kill(context.Background(), "missing"); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
}
