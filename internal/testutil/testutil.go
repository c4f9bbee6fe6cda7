// Package testutil provides shared test helpers.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// SetupTestRepo creates a temporary git repository with one initial
// commit and returns its path. The repository is cleaned up with the
// test.
func SetupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	Git(t, dir, "init", "-q")
	Git(t, dir, "config", "user.email", "coordinator@example.com")
	Git(t, dir, "config", "user.name", "coordinator")

	readme := filepath.Join(dir, "README.md")
	if err := os.WriteFile(readme, []byte("# Test Repository\n"), 0644); err != nil {
		t.Fatalf("failed to create README: %v", err)
	}
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-q", "-m", "initial commit")

	return dir
}

// CommitFile creates or updates a file in the repository and commits it.
func CommitFile(t *testing.T, repoDir, path, content, message string) {
	t.Helper()

	fullPath := filepath.Join(repoDir, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
	Git(t, repoDir, "add", path)
	Git(t, repoDir, "commit", "-q", "-m", message)
}

// Git runs a git command in dir and returns its trimmed output, failing
// the test on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}
