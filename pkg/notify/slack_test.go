package notify

import (
	"log/slog"
	"testing"
)

func TestDisabledNotifierIsNoop(t *testing.T) {
	n := NewSlackNotifier("", "", slog.Default())
	if n.IsEnabled() {
		t.Fatal("expected notifier without a bot token to be disabled")
	}
	// Must not panic with a nil client.
	n.NotifyOutcome(nil, Outcome{Status: "live"}) //nolint:staticcheck
}

func TestFormatOutcomeLive(t *testing.T) {
	got := formatOutcome(Outcome{ProjectName: "demo", DeploymentID: 7, Status: "live", Domain: "demo.app.example.com"})
	want := ":rocket: *demo* is live at https://demo.app.example.com (deployment #7)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatOutcomeFailed(t *testing.T) {
	got := formatOutcome(Outcome{ProjectName: "demo", DeploymentID: 7, Status: "failed", FailReason: "build exited 1"})
	want := ":x: *demo* deployment #7 failed: build exited 1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
