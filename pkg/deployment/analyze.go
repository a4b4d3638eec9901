package deployment

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/CoderRahul01/unideploy/pkg/build"
)

// AnalyzeResult is the response shape for POST /analyze and /analyze/zip
// (§6): framework detection plus a suggested tier, without creating a
// Project or Deployment.
type AnalyzeResult struct {
	ID                string   `json:"id"`
	Type              string   `json:"type"`
	BuildCommand      string   `json:"build_command"`
	StartCommand      string   `json:"start_command"`
	Port              int      `json:"port"`
	RecommendedTier   string   `json:"recommended_tier"`
	TierReasoning     string   `json:"tier_reasoning"`
	Files             []string `json:"files"`
	SuggestionEngine  string   `json:"suggestion_engine"`
}

const suggestionEngineHeuristic = "static-detect"

// Analyzer drives framework detection for the /analyze endpoints, using a
// scratch directory under workspaceRoot it cleans up after each call.
type Analyzer struct {
	workspaceRoot string
}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer(workspaceRoot string) *Analyzer {
	return &Analyzer{workspaceRoot: workspaceRoot}
}

// AnalyzeRepo clones repoURL into a scratch directory and detects its
// framework/runtime.
func (a *Analyzer) AnalyzeRepo(ctx context.Context, repoURL string) (AnalyzeResult, error) {
	scratch, err := a.scratchDir()
	if err != nil {
		return AnalyzeResult{}, err
	}
	defer os.RemoveAll(scratch)

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", repoURL, scratch)
	if output, err := cmd.CombinedOutput(); err != nil {
		return AnalyzeResult{}, fmt.Errorf("cloning repository for analysis: %w: %s", err, string(output))
	}

	return a.analyze(scratch)
}

// AnalyzeZip extracts a zip archive read from r into a scratch directory and
// detects its framework/runtime.
func (a *Analyzer) AnalyzeZip(r io.ReaderAt, size int64) (AnalyzeResult, error) {
	scratch, err := a.scratchDir()
	if err != nil {
		return AnalyzeResult{}, err
	}
	defer os.RemoveAll(scratch)

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("reading zip upload: %w", err)
	}
	if err := extractZip(zr, scratch); err != nil {
		return AnalyzeResult{}, err
	}

	return a.analyze(scratch)
}

func (a *Analyzer) scratchDir() (string, error) {
	dir := filepath.Join(a.workspaceRoot, "analyze-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("preparing analysis workspace: %w", err)
	}
	return dir, nil
}

func (a *Analyzer) analyze(workspace string) (AnalyzeResult, error) {
	runtime := build.Detect(workspace)
	buildCmd, startCmd := build.BuildCommandFor(runtime)
	tier, reasoning := recommendTier(runtime)

	entries, err := os.ReadDir(workspace)
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("listing analyzed files: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		files = append(files, e.Name())
	}

	return AnalyzeResult{
		ID:               uuid.NewString(),
		Type:             string(runtime),
		BuildCommand:     buildCmd,
		StartCommand:     startCmd,
		Port:             defaultPortFor(runtime),
		RecommendedTier:  tier,
		TierReasoning:    reasoning,
		Files:            files,
		SuggestionEngine: suggestionEngineHeuristic,
	}, nil
}

// recommendTier maps a detected runtime to a starting tier. Static sites and
// simple Node/Python apps fit comfortably in SEED; frameworks with a
// production build step (Next.js SSR) get LAUNCH headroom by default.
func recommendTier(r build.Runtime) (tier, reasoning string) {
	switch r {
	case build.RuntimeNext:
		return "LAUNCH", "Next.js SSR workloads benefit from LAUNCH-tier resources by default"
	case build.RuntimeUnknown:
		return "SEED", "no recognized framework; defaulting to the smallest tier"
	default:
		return "SEED", "detected runtime fits comfortably within SEED-tier resources"
	}
}

func defaultPortFor(r build.Runtime) int {
	switch r {
	case build.RuntimePython:
		return 8000
	case build.RuntimeVanilla:
		return 8080
	default:
		return 3000
	}
}

func extractZip(zr *zip.Reader, dest string) error {
	for _, f := range zr.File {
		target := filepath.Join(dest, f.Name)
		if !isWithin(dest, target) {
			return fmt.Errorf("zip entry %q escapes destination directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		if err := extractZipFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening zip entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
	if err != nil {
		return fmt.Errorf("creating %q: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("extracting %q: %w", f.Name, err)
	}
	return nil
}

func isWithin(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !filepathHasPrefix(rel, "../")
}

func filepathHasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
