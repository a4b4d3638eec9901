package reconciler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/CoderRahul01/unideploy/internal/guard"
)

type fakeStore struct {
	rows        []ProjectRow
	slept       map[int64]bool
	runtimeAdd  map[int64]int
	resetCalled map[int64]bool
	driftTo     map[int64]string
}

func newFakeStore(rows []ProjectRow) *fakeStore {
	return &fakeStore{rows: rows, slept: map[int64]bool{}, runtimeAdd: map[int64]int{}, resetCalled: map[int64]bool{}, driftTo: map[int64]string{}}
}

func (f *fakeStore) ListForReconciliation(ctx context.Context) ([]ProjectRow, error) { return f.rows, nil }
func (f *fakeStore) DriftUpdateStatus(ctx context.Context, id int64, status string) error {
	f.driftTo[id] = status
	return nil
}
func (f *fakeStore) AddRuntimeMinutes(ctx context.Context, id int64, tickMinutes int) error {
	f.runtimeAdd[id] += tickMinutes
	return nil
}
func (f *fakeStore) ForceSleep(ctx context.Context, id int64) error {
	f.slept[id] = true
	return nil
}
func (f *fakeStore) ResetDailyRuntime(ctx context.Context, id int64) error {
	f.resetCalled[id] = true
	return nil
}

func TestTickSleepsIdleProject(t *testing.T) {
	store := newFakeStore([]ProjectRow{
		{ID: 1, Status: guard.StatusRunning, LastActiveAt: time.Now().Add(-time.Hour), LastResetAt: time.Now()},
	})
	rc := New(store, nil, nil, nil, nil, nil, time.Minute, 30*time.Minute, 0, slog.Default())

	if err := rc.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if !store.slept[1] {
		t.Fatal("expected project 1 to be forced to sleep for idleness")
	}
}

func TestTickLeavesActiveProjectRunning(t *testing.T) {
	store := newFakeStore([]ProjectRow{
		{ID: 1, Status: guard.StatusRunning, LastActiveAt: time.Now(), LastResetAt: time.Now()},
	})
	rc := New(store, nil, nil, nil, nil, nil, time.Minute, 30*time.Minute, 0, slog.Default())

	if err := rc.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if store.slept[1] {
		t.Fatal("active project must not be slept")
	}
	if store.runtimeAdd[1] != 1 {
		t.Fatalf("runtimeAdd[1] = %d, want 1", store.runtimeAdd[1])
	}
}

func TestTickSleepsOnDailyQuota(t *testing.T) {
	store := newFakeStore([]ProjectRow{
		{ID: 1, Status: guard.StatusRunning, LastActiveAt: time.Now(), LastResetAt: time.Now(), DailyMinutes: 59},
	})
	rc := New(store, nil, nil, nil, nil, nil, time.Minute, 0, 60, slog.Default())

	if err := rc.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if !store.slept[1] {
		t.Fatal("expected project 1 to be slept on daily quota")
	}
}

func TestTickResetsDailyRuntimeAfterADay(t *testing.T) {
	store := newFakeStore([]ProjectRow{
		{ID: 1, Status: guard.StatusSleeping, LastResetAt: time.Now().Add(-25 * time.Hour), DailyMinutes: 59},
	})
	rc := New(store, nil, nil, nil, nil, nil, time.Minute, 0, 60, slog.Default())

	if err := rc.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if !store.resetCalled[1] {
		t.Fatal("expected daily runtime reset")
	}
}

type fakeSandboxLister struct{ ids []string }

func (f fakeSandboxLister) ListActive(ctx context.Context) ([]string, error) { return f.ids, nil }

type fakeKiller struct{ killed []string }

func (f *fakeKiller) Kill(ctx context.Context, id string) error {
	f.killed = append(f.killed, id)
	return nil
}

type fakeDeploymentLister struct{ rows []DeploymentRow }

func (f fakeDeploymentLister) ListLiveWithDomain(ctx context.Context) ([]DeploymentRow, error) {
	return f.rows, nil
}

func TestCorrectDriftKillsOrphanSandbox(t *testing.T) {
	store := newFakeStore([]ProjectRow{
		{ID: 1, Status: guard.StatusSleeping, LastResetAt: time.Now()},
	})
	killer := &fakeKiller{}
	rc := New(store, fakeSandboxLister{ids: []string{"sbx-1"}}, killer, fakeDeploymentLister{rows: []DeploymentRow{{ProjectID: 1, SandboxID: "sbx-1"}}}, nil, nil, time.Minute, 0, 0, slog.Default())

	if err := rc.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if len(killer.killed) != 1 || killer.killed[0] != "sbx-1" {
		t.Fatalf("expected sbx-1 to be killed, got %v", killer.killed)
	}
}

func TestTickCorrectsDriftWhenSandboxNotActuallyLive(t *testing.T) {
	store := newFakeStore([]ProjectRow{
		{ID: 10, Status: guard.StatusRunning, LastActiveAt: time.Now(), LastResetAt: time.Now()},
	})
	// The provider's list_active() does not include "sbx-10": the sandbox
	// behind Project 10 is gone even though the database still says RUNNING.
	rc := New(store, fakeSandboxLister{ids: nil}, nil, fakeDeploymentLister{rows: []DeploymentRow{{ProjectID: 10, SandboxID: "sbx-10"}}}, nil, nil, time.Minute, 30*time.Minute, 0, slog.Default())

	if err := rc.tick(context.Background()); err != nil {
		t.Fatalf("tick() error = %v", err)
	}
	if store.driftTo[10] != guard.StatusSleeping {
		t.Fatalf("expected project 10 drift-corrected to SLEEPING, got %q", store.driftTo[10])
	}
	if store.runtimeAdd[10] != 0 {
		t.Fatalf("runtime minutes must not accrue for a drifted project, got %d", store.runtimeAdd[10])
	}
}
