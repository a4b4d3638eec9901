package guard

import (
	"context"
	"testing"
)

type fakeStore struct {
	building     int
	running      int
	seedRunning  int
}

func (f fakeStore) CountDeploymentsByStatus(ctx context.Context, status string) (int, error) {
	return f.building, nil
}
func (f fakeStore) CountRunningProjects(ctx context.Context) (int, error) { return f.running, nil }
func (f fakeStore) CountRunningSeedProjectsForOwner(ctx context.Context, ownerID int64) (int, error) {
	return f.seedRunning, nil
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to string
		wantErr  bool
	}{
		{StatusCreated, StatusBuilt, false},
		{StatusBuilt, StatusWaking, false},
		{StatusBuilt, StatusRunning, false},
		{StatusWaking, StatusRunning, false},
		{StatusWaking, StatusSleeping, false},
		{StatusRunning, StatusSleeping, false},
		{StatusSleeping, StatusWaking, false},
		{StatusRunning, StatusRunning, false},
		{StatusCreated, StatusRunning, true},
		{StatusSleeping, StatusRunning, true},
		{StatusRunning, StatusCreated, true},
	}
	for _, tt := range tests {
		err := ValidateTransition(tt.from, tt.to)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
		}
	}
}

func TestValidateDeploymentTransition(t *testing.T) {
	tests := []struct {
		from, to string
		wantErr  bool
	}{
		{DeployQueued, DeployCloning, false},
		{DeployCloning, DeployBuilding, false},
		{DeployBuilding, DeployIndexing, false},
		{DeployIndexing, DeployDeploying, false},
		{DeployDeploying, DeployLive, false},
		{DeployQueued, DeployBuilding, true},
		{DeployBuilding, DeployFailed, false},
		{DeployQueued, DeployFailed, false},
		{DeployLive, DeployFailed, true},
		{DeployFailed, DeployFailed, true},
	}
	for _, tt := range tests {
		err := ValidateDeploymentTransition(tt.from, tt.to)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateDeploymentTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
		}
	}
}

func TestCanStartSeedConcurrency(t *testing.T) {
	l := DefaultLimits()
	store := fakeStore{seedRunning: 1}
	ok, reason, err := l.CanStart(context.Background(), ProjectForStart{OwnerID: 1, Tier: TierSeed}, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected rejection, got ok with reason %q", reason)
	}
}

func TestCanStartDailyQuotaBoundary(t *testing.T) {
	l := DefaultLimits()
	store := fakeStore{}

	ok, _, err := l.CanStart(context.Background(), ProjectForStart{Tier: TierLaunch, DailyRuntimeMinutes: l.DailyRuntimeLimitMins - 1}, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected start permitted at limit-1")
	}

	ok, _, err = l.CanStart(context.Background(), ProjectForStart{Tier: TierLaunch, DailyRuntimeMinutes: l.DailyRuntimeLimitMins}, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected start rejected at limit")
	}
}

func TestCanBuildConcurrencyBoundary(t *testing.T) {
	l := DefaultLimits()

	ok, _, err := l.CanBuild(context.Background(), fakeStore{building: l.MaxConcurrentBuilds - 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected build accepted at max-1")
	}

	ok, _, err = l.CanBuild(context.Background(), fakeStore{building: l.MaxConcurrentBuilds})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected build rejected at max")
	}
}

func TestValidateUploadBoundary(t *testing.T) {
	l := DefaultLimits()

	if ok, _ := l.ValidateUpload(l.MaxUploadBytes); !ok {
		t.Fatalf("expected upload at exactly the limit to succeed")
	}
	if ok, _ := l.ValidateUpload(l.MaxUploadBytes + 1); ok {
		t.Fatalf("expected upload one byte over the limit to fail")
	}
}
