package autofix

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/CoderRahul01/unideploy/pkg/ai"
	"github.com/CoderRahul01/unideploy/pkg/deployment"
	"github.com/CoderRahul01/unideploy/pkg/sandbox"
)

type fakeAI struct {
	proposal ai.FixProposal
	err      error
}

func (f *fakeAI) ProposeFix(ctx context.Context, req ai.FixRequest) (ai.FixProposal, error) {
	return f.proposal, f.err
}

type fakeVerifier struct {
	status string
}

func (f *fakeVerifier) Create(ctx context.Context, req sandbox.CreateRequest) (sandbox.Instance, error) {
	return sandbox.Instance{}, fmt.Errorf("not implemented")
}
func (f *fakeVerifier) Kill(ctx context.Context, id string) error { return nil }
func (f *fakeVerifier) Connect(ctx context.Context, id string) (sandbox.Instance, error) {
	return sandbox.Instance{}, fmt.Errorf("not implemented")
}
func (f *fakeVerifier) Verify(ctx context.Context, workspace, focusFile, patch, errorLog string) (sandbox.VerifyResult, error) {
	return sandbox.VerifyResult{Status: f.status}, nil
}
func (f *fakeVerifier) ListActive(ctx context.Context) ([]string, error) { return nil, nil }

type fakeRedeployer struct {
	called    bool
	projectID int64
	patch     *deployment.PendingPatch
}

func (f *fakeRedeployer) Redeploy(ctx context.Context, projectID int64, patch *deployment.PendingPatch) error {
	f.called = true
	f.projectID = projectID
	f.patch = patch
	return nil
}

func TestAttemptSkipsWhenUnconfigured(t *testing.T) {
	flow := NewFlow(nil, nil, nil, nil, nil, nil, slog.Default())

	result, err := flow.Attempt(context.Background(), deployment.AutoFixRequest{ProjectID: 1, ErrorLog: "boom"})
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if result.Attempted {
		t.Fatal("expected Attempted=false when ai/verifier are unconfigured")
	}
}

func TestAttemptVerifiedTriggersRedeploy(t *testing.T) {
	redeployer := &fakeRedeployer{}
	flow := NewFlow(
		&fakeAI{proposal: ai.FixProposal{FocusFile: "app.js", Patch: "--- a\n+++ b\n", Suggestion: "fix it"}},
		nil, nil,
		&fakeVerifier{status: "ok"},
		redeployer, nil, slog.Default(),
	)

	result, err := flow.Attempt(context.Background(), deployment.AutoFixRequest{ProjectID: 7, ErrorLog: "TypeError: x is undefined"})
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if !result.Verified {
		t.Fatal("expected Verified=true")
	}
	if !redeployer.called || redeployer.projectID != 7 {
		t.Fatalf("expected redeploy for project 7, got called=%v projectID=%d", redeployer.called, redeployer.projectID)
	}
	if redeployer.patch == nil || redeployer.patch.FocusFile != "app.js" {
		t.Fatalf("expected patch for app.js, got %+v", redeployer.patch)
	}
}

func TestApplyFixTriggersRedeployWithPatch(t *testing.T) {
	redeployer := &fakeRedeployer{}
	flow := NewFlow(nil, nil, nil, &fakeVerifier{status: "ok"}, redeployer, nil, slog.Default())

	patched, err := flow.ApplyFix(context.Background(), 9, "app.js", "fix it", "```js\nconsole.log('fixed')\n```")
	if err != nil {
		t.Fatalf("ApplyFix() error = %v", err)
	}
	if patched != "app.js" {
		t.Fatalf("patched file = %q, want app.js", patched)
	}
	if !redeployer.called || redeployer.projectID != 9 {
		t.Fatal("expected redeploy to be triggered for project 9")
	}
	if redeployer.patch == nil || redeployer.patch.Content != "console.log('fixed')" {
		t.Fatalf("expected code fence stripped from patch content, got %+v", redeployer.patch)
	}
}

func TestApplyFixRejectsImplausiblyShortPatch(t *testing.T) {
	redeployer := &fakeRedeployer{}
	flow := NewFlow(nil, nil, nil, &fakeVerifier{status: "ok"}, redeployer, nil, slog.Default())

	if _, err := flow.ApplyFix(context.Background(), 9, "app.js", "fix it", "ok"); err == nil {
		t.Fatal("expected error for implausibly short patch content")
	}
	if redeployer.called {
		t.Fatal("redeploy must not fire when the patch is rejected")
	}
}

func TestAttemptUnverifiedDoesNotRedeploy(t *testing.T) {
	redeployer := &fakeRedeployer{}
	flow := NewFlow(
		&fakeAI{proposal: ai.FixProposal{FocusFile: "app.js", Patch: "--- a\n+++ b\n", Suggestion: "fix it"}},
		nil, nil,
		&fakeVerifier{status: "syntax_error"},
		redeployer, nil, slog.Default(),
	)

	result, err := flow.Attempt(context.Background(), deployment.AutoFixRequest{ProjectID: 7, ErrorLog: "TypeError"})
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if result.Verified {
		t.Fatal("expected Verified=false")
	}
	if redeployer.called {
		t.Fatal("redeploy must not fire on an unverified patch")
	}
}

func TestAttemptDeclinedWhenNoPatchProposed(t *testing.T) {
	flow := NewFlow(&fakeAI{}, nil, nil, &fakeVerifier{status: "ok"}, nil, nil, slog.Default())

	result, err := flow.Attempt(context.Background(), deployment.AutoFixRequest{ProjectID: 1, ErrorLog: "boom"})
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if !result.Attempted || result.Verified {
		t.Fatalf("unexpected result: %+v", result)
	}
}
