package build

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Orchestrator runs the containerized build step against a cloned
// workspace. It shells out to the docker CLI rather than a Docker SDK: the
// retrieved reference pack carries no Docker client library, and the
// docker CLI is the same tool the reference platform's build workers invoke.
type Orchestrator struct {
	DockerBinary string
}

// NewOrchestrator returns an Orchestrator using the docker binary on PATH.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{DockerBinary: "docker"}
}

// Result is the outcome of a single Run call.
type Result struct {
	ImageTag string
	Runtime  Runtime
}

// Run detects the workspace's runtime, builds a container image tagged
// imageTag, and streams combined stdout/stderr line by line to onLine. It
// returns once the docker build process exits; a non-zero exit is reported
// as an error carrying the last lines of output.
func (o *Orchestrator) Run(ctx context.Context, workspace, imageTag string, onLine func(line string)) (Result, error) {
	rt := Detect(workspace)
	dockerfile := filepath.Join(workspace, "Dockerfile")
	if !fileExists(dockerfile) {
		if rt == RuntimeUnknown {
			return Result{}, fmt.Errorf("cannot determine a runtime for %s: no package.json, requirements.txt, pyproject.toml, or index.html found", workspace)
		}
		if err := writeGeneratedDockerfile(dockerfile, rt); err != nil {
			return Result{}, fmt.Errorf("generating dockerfile: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, o.DockerBinary, "build", "-t", imageTag, workspace)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("attaching build stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting docker build: %w", err)
	}

	var tail []string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if onLine != nil {
			onLine(line)
		}
		tail = append(tail, line)
		if len(tail) > 20 {
			tail = tail[1:]
		}
	}

	if err := cmd.Wait(); err != nil {
		return Result{}, fmt.Errorf("docker build failed: %w: %s", err, strings.Join(tail, "\n"))
	}

	return Result{ImageTag: imageTag, Runtime: rt}, nil
}

// writeGeneratedDockerfile emits a minimal Dockerfile for runtimes that
// don't ship their own, using the default build/start commands from
// BuildCommandFor.
func writeGeneratedDockerfile(path string, rt Runtime) error {
	buildCmd, startCmd := BuildCommandFor(rt)
	var base string
	switch rt {
	case RuntimePython:
		base = "python:3.12-slim"
	case RuntimeVanilla:
		base = "python:3.12-slim"
	default:
		base = "node:22-slim"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\nWORKDIR /app\nCOPY . .\n", base)
	if buildCmd != "" {
		fmt.Fprintf(&b, "RUN %s\n", buildCmd)
	}
	if startCmd != "" {
		fmt.Fprintf(&b, "CMD %s\n", toShellForm(startCmd))
	}

	return writeFile(path, b.String())
}

func toShellForm(cmd string) string {
	return fmt.Sprintf("[\"sh\", \"-c\", %q]", cmd)
}
