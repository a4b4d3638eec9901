package build

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestDetectNext(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "package.json", `{"dependencies":{"next":"14.0.0","react":"18.0.0"}}`)

	if got := Detect(dir); got != RuntimeNext {
		t.Fatalf("Detect() = %v, want %v", got, RuntimeNext)
	}
}

func TestDetectVite(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "package.json", `{"devDependencies":{"vite":"5.0.0"}}`)

	if got := Detect(dir); got != RuntimeVite {
		t.Fatalf("Detect() = %v, want %v", got, RuntimeVite)
	}
}

func TestDetectPlainNode(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "package.json", `{"dependencies":{"express":"4.0.0"}}`)

	if got := Detect(dir); got != RuntimeNode {
		t.Fatalf("Detect() = %v, want %v", got, RuntimeNode)
	}
}

func TestDetectPython(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "requirements.txt", "flask==3.0.0\n")

	if got := Detect(dir); got != RuntimePython {
		t.Fatalf("Detect() = %v, want %v", got, RuntimePython)
	}
}

func TestDetectVanilla(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "index.html", "<html></html>")

	if got := Detect(dir); got != RuntimeVanilla {
		t.Fatalf("Detect() = %v, want %v", got, RuntimeVanilla)
	}
}

func TestDetectUnknown(t *testing.T) {
	dir := t.TempDir()

	if got := Detect(dir); got != RuntimeUnknown {
		t.Fatalf("Detect() = %v, want %v", got, RuntimeUnknown)
	}
}
