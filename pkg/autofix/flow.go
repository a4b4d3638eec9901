// Package autofix implements the AutoFix Flow (C9): on a fatal deploy
// failure, retrieve relevant context, ask the AI collaborator for a patch,
// verify it in a disposable sandbox, and — if verified — trigger a redeploy.
package autofix

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CoderRahul01/unideploy/pkg/ai"
	"github.com/CoderRahul01/unideploy/pkg/deployment"
	"github.com/CoderRahul01/unideploy/pkg/sandbox"
	"github.com/CoderRahul01/unideploy/pkg/vectorindex"
	"github.com/CoderRahul01/unideploy/pkg/wisdom"
)

// Redeployer is the Flow's narrow view of whatever can launch a new
// Deployment for a Project. *deployment.Pipeline satisfies it via a small
// Redeploy method; the two are tied together at wiring time.
type Redeployer interface {
	Redeploy(ctx context.Context, projectID int64, patch *deployment.PendingPatch) error
}

// Metrics is the narrow counter Flow increments per attempt outcome.
type Metrics interface {
	IncOutcome(outcome string)
}

// Flow wires the AI, vector-index, wisdom, and sandbox-verify collaborators
// into the single AutoFix attempt described in §4.8.
type Flow struct {
	ai         ai.Client
	index      vectorindex.Client
	wisdom     wisdom.Client
	verifier   sandbox.Provider
	redeployer Redeployer
	metrics    Metrics
	logger     *slog.Logger

	maxAttemptsPerDeployment int
}

// NewFlow constructs a Flow. A nil vectorindex.Client or wisdom.Client
// degrades the attempt (fewer signals, plainer prompt). A nil ai.Client or a
// nil verifier makes Attempt skip entirely: with no model there is nothing to
// propose, and with no sandbox there is nothing to check a patch against.
func NewFlow(aiClient ai.Client, index vectorindex.Client, wisdomClient wisdom.Client, verifier sandbox.Provider, redeployer Redeployer, metrics Metrics, logger *slog.Logger) *Flow {
	return &Flow{
		ai:                       aiClient,
		index:                    index,
		wisdom:                   wisdomClient,
		verifier:                 verifier,
		redeployer:               redeployer,
		metrics:                  metrics,
		logger:                   logger,
		maxAttemptsPerDeployment: 1,
	}
}

// Attempt runs one AutoFix cycle for a failed deployment. It never returns
// an error for a declined or unverified fix — only for a genuine
// infrastructure problem (e.g. the AI call itself failing) — since a
// skipped fix is a normal, expected outcome, not a Pipeline failure.
func (f *Flow) Attempt(ctx context.Context, req deployment.AutoFixRequest) (deployment.AutoFixResult, error) {
	if f.ai == nil || f.verifier == nil {
		f.recordOutcome("skipped_unconfigured")
		return deployment.AutoFixResult{}, nil
	}

	sig := errorSignature(req.ErrorLog)

	var history []string
	if f.wisdom != nil {
		prior, err := f.wisdom.Recall(ctx, req.ProjectID, sig)
		if err != nil {
			f.logger.Warn("recalling prior autofix attempts", "error", err)
		}
		for _, p := range prior {
			verdict := "failed verification"
			if p.Verified {
				verdict = "verified"
			}
			history = append(history, fmt.Sprintf("tried %s (%s): %s", p.FocusFile, verdict, p.Suggestion))
		}
	}

	var snippets []string
	if f.index != nil {
		hits, err := f.index.Query(ctx, req.ProjectID, req.ErrorLog, 5)
		if err != nil {
			f.logger.Warn("querying vector index", "error", err)
		}
		for _, s := range hits {
			snippets = append(snippets, fmt.Sprintf("%s:\n%s", s.Path, s.Content))
		}
	}

	proposal, err := f.ai.ProposeFix(ctx, ai.FixRequest{ErrorLog: req.ErrorLog, Snippets: snippets, History: history})
	if err != nil {
		f.recordOutcome("propose_error")
		return deployment.AutoFixResult{}, fmt.Errorf("proposing fix: %w", err)
	}
	if proposal.FocusFile == "" || proposal.Patch == "" {
		f.recordOutcome("declined")
		return deployment.AutoFixResult{Attempted: true}, nil
	}

	verifyResult, err := f.verifier.Verify(ctx, req.Workspace, proposal.FocusFile, proposal.Patch, req.ErrorLog)
	verified := err == nil && verifyResult.Status == "ok"

	if f.wisdom != nil {
		if recErr := f.wisdom.Record(ctx, req.ProjectID, wisdom.PriorAttempt{
			ErrorSignature: sig,
			FocusFile:      proposal.FocusFile,
			Suggestion:     proposal.Suggestion,
			Verified:       verified,
		}); recErr != nil {
			f.logger.Warn("recording autofix attempt", "error", recErr)
		}
	}

	result := deployment.AutoFixResult{Attempted: true, FocusFile: proposal.FocusFile, Suggestion: proposal.Suggestion, Patch: proposal.Patch, Verified: verified}

	if !verified {
		f.recordOutcome("unverified")
		return result, nil
	}

	f.recordOutcome("verified")
	if f.redeployer != nil {
		patch := &deployment.PendingPatch{FocusFile: proposal.FocusFile, Content: stripCodeFence(proposal.Patch)}
		if err := f.redeployer.Redeploy(ctx, req.ProjectID, patch); err != nil {
			f.logger.Error("triggering autofix redeploy", "project_id", req.ProjectID, "error", err)
		}
	}
	return result, nil
}

// ApplyFix is the manual counterpart to Attempt's automatic verified-fix
// redeploy: an operator has reviewed a previously proposed patch (surfaced
// via a Deployment's persisted autofix_* columns) and accepted it (§4.8 step
// 6). It strips any code-fence wrapping, sanity-checks the result is a
// plausible file body, records success wisdom, and triggers a redeploy with
// the patch applied.
func (f *Flow) ApplyFix(ctx context.Context, projectID int64, focusFile, suggestion, rawPatch string) (string, error) {
	content := stripCodeFence(rawPatch)
	if len(content) <= 10 {
		return "", fmt.Errorf("patched content for %s is implausibly short (%d bytes)", focusFile, len(content))
	}

	if f.wisdom != nil {
		if err := f.wisdom.Record(ctx, projectID, wisdom.PriorAttempt{
			ErrorSignature: errorSignature(suggestion),
			FocusFile:      focusFile,
			Suggestion:     suggestion,
			Verified:       true,
		}); err != nil {
			f.logger.Warn("recording applied-fix wisdom", "error", err)
		}
	}

	if f.redeployer == nil {
		return "", fmt.Errorf("no redeployer configured")
	}
	if err := f.redeployer.Redeploy(ctx, projectID, &deployment.PendingPatch{FocusFile: focusFile, Content: content}); err != nil {
		return "", fmt.Errorf("triggering redeploy: %w", err)
	}
	return focusFile, nil
}

// stripCodeFence removes a leading/trailing ``` fence (with an optional
// language tag on the opening line) that an AI proposal sometimes wraps its
// full-file replacement in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (f *Flow) recordOutcome(outcome string) {
	if f.metrics != nil {
		f.metrics.IncOutcome(outcome)
	}
}

// errorSignature collapses an error log to a short key so the wisdom corpus
// can recognize "the same failure" across attempts. It hashes the log's last
// line (the whole log when it is a single line) with surrounding whitespace
// trimmed; line numbers or timestamps in that line are part of the key.
func errorSignature(errorLog string) string {
	lines := strings.Split(errorLog, "\n")
	first := lines[0]
	if len(lines) > 1 {
		first = lines[len(lines)-1]
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(first)))
	return hex.EncodeToString(sum[:8])
}
