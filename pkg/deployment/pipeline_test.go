package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/CoderRahul01/unideploy/internal/guard"
	"github.com/CoderRahul01/unideploy/pkg/build"
	"github.com/CoderRahul01/unideploy/pkg/logbroker"
	"github.com/CoderRahul01/unideploy/pkg/sandbox"
)

// --- in-memory DeploymentStore stand-in ---

type memDeploymentStore struct {
	mu   sync.Mutex
	rows map[int64]*Deployment
}

func newMemDeploymentStore(id int64) *memDeploymentStore {
	return &memDeploymentStore{rows: map[int64]*Deployment{id: {ID: id, Status: guard.DeployQueued}}}
}

func (m *memDeploymentStore) Create(ctx context.Context, projectID int64) (Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.rows) + 1000)
	d := &Deployment{ID: id, ProjectID: projectID, Status: guard.DeployQueued}
	m.rows[id] = d
	return *d, nil
}

func (m *memDeploymentStore) Get(ctx context.Context, id int64) (Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return Deployment{}, fmt.Errorf("not found")
	}
	return *d, nil
}

func (m *memDeploymentStore) UpdateStatus(ctx context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Status = status
	return nil
}

func (m *memDeploymentStore) MarkLive(ctx context.Context, id int64, imageTag, sandboxID, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Status = guard.DeployLive
	m.rows[id].ImageTag = &imageTag
	m.rows[id].SandboxID = &sandboxID
	m.rows[id].Domain = &domain
	return nil
}

func (m *memDeploymentStore) MarkFailed(ctx context.Context, id int64, errMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Status = guard.DeployFailed
	m.rows[id].ErrorMessage = &errMessage
	return nil
}

func (m *memDeploymentStore) SetAutoFixResult(ctx context.Context, id int64, focusFile, suggestion, patch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].AutoFixFocusFile = &focusFile
	m.rows[id].AutoFixSuggestion = &suggestion
	m.rows[id].AutoFixPatch = &patch
	return nil
}

func (m *memDeploymentStore) statusOf(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Status
}

// --- fakes satisfying Pipeline's collaborator interfaces ---

type fakeProjectStore struct {
	mu           sync.Mutex
	view         ProjectView
	markRunning  bool
	rolledBackTo string
}

func (f *fakeProjectStore) GetView(ctx context.Context, id int64) (ProjectView, error) {
	return f.view, nil
}
func (f *fakeProjectStore) MarkRunning(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markRunning = true
	return nil
}
func (f *fakeProjectStore) RollbackToStatus(ctx context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolledBackTo = status
	return nil
}

type fakeBuildRunner struct {
	fail bool
}

func (f *fakeBuildRunner) Run(ctx context.Context, workspace, imageTag string, onLine func(string)) (build.Result, error) {
	if onLine != nil {
		onLine("building...")
	}
	if f.fail {
		return build.Result{}, fmt.Errorf("build failed")
	}
	return build.Result{ImageTag: imageTag, Runtime: build.RuntimeNode}, nil
}

type fakeSandboxProvider struct {
	fail bool
}

func (f *fakeSandboxProvider) Create(ctx context.Context, req sandbox.CreateRequest) (sandbox.Instance, error) {
	if f.fail {
		return sandbox.Instance{}, fmt.Errorf("sandbox create failed")
	}
	return sandbox.Instance{ID: "sbx-1", Status: "running", URL: "http://sbx-1.local"}, nil
}
func (f *fakeSandboxProvider) Kill(ctx context.Context, id string) error { return nil }
func (f *fakeSandboxProvider) Connect(ctx context.Context, id string) (sandbox.Instance, error) {
	return sandbox.Instance{ID: id, Status: "running"}, nil
}
func (f *fakeSandboxProvider) Verify(ctx context.Context, workspace, focusFile, patch, errorLog string) (sandbox.VerifyResult, error) {
	return sandbox.VerifyResult{Status: "ok"}, nil
}
func (f *fakeSandboxProvider) ListActive(ctx context.Context) ([]string, error) { return nil, nil }

func newTestPipeline(t *testing.T, deployments DeploymentStore, projects ProjectStore, builder BuildRunner, sb sandbox.Provider) *Pipeline {
	t.Helper()
	return NewPipeline(
		PipelineConfig{WorkspaceRoot: t.TempDir(), PublicSuffix: "example.test"},
		deployments,
		projects,
		sb,
		builder,
		nil,
		nil,
		logbroker.New(nil, slog.Default()),
		nil,
		nil,
		nil,
		slog.Default(),
	)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was never satisfied")
}

func TestPipelineRunSuccess(t *testing.T) {
	deployments := newMemDeploymentStore(1)
	projects := &fakeProjectStore{view: ProjectView{ID: 10, Name: "my app", Tier: guard.TierSeed}}
	p := newTestPipeline(t, deployments, projects, &fakeBuildRunner{}, &fakeSandboxProvider{})

	p.Run(context.Background(), RunInput{DeploymentID: 1, ProjectID: 10, PriorStatus: guard.StatusBuilt})

	waitFor(t, func() bool { return deployments.statusOf(1) == guard.DeployLive })
	if !projects.markRunning {
		t.Fatal("expected MarkRunning to be called on success")
	}
	if projects.rolledBackTo != "" {
		t.Fatalf("unexpected rollback on success path: %q", projects.rolledBackTo)
	}
}

func TestPipelineRunBuildFailureRollsBack(t *testing.T) {
	deployments := newMemDeploymentStore(2)
	projects := &fakeProjectStore{view: ProjectView{ID: 11, Name: "my app", Tier: guard.TierSeed}}
	p := newTestPipeline(t, deployments, projects, &fakeBuildRunner{fail: true}, &fakeSandboxProvider{})

	p.Run(context.Background(), RunInput{DeploymentID: 2, ProjectID: 11, PriorStatus: guard.StatusBuilt})

	waitFor(t, func() bool { return deployments.statusOf(2) == guard.DeployFailed })
	if projects.markRunning {
		t.Fatal("MarkRunning must not be called on a failed build")
	}
	if projects.rolledBackTo != guard.StatusBuilt {
		t.Fatalf("rolledBackTo = %q, want %q", projects.rolledBackTo, guard.StatusBuilt)
	}
}

func TestPipelineRunSandboxFailureRollsBack(t *testing.T) {
	deployments := newMemDeploymentStore(3)
	projects := &fakeProjectStore{view: ProjectView{ID: 12, Name: "my app", Tier: guard.TierSeed}}
	p := newTestPipeline(t, deployments, projects, &fakeBuildRunner{}, &fakeSandboxProvider{fail: true})

	p.Run(context.Background(), RunInput{DeploymentID: 3, ProjectID: 12, PriorStatus: guard.StatusCreated})

	waitFor(t, func() bool { return deployments.statusOf(3) == guard.DeployFailed })
	if projects.rolledBackTo != guard.StatusCreated {
		t.Fatalf("rolledBackTo = %q, want %q", projects.rolledBackTo, guard.StatusCreated)
	}
}
