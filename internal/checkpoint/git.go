package checkpoint

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandExecutor runs git commands in a working directory. Mutating
// operations (stage, commit) go through the git CLI; read-side plumbing
// uses go-git directly.
type CommandExecutor interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// gitExecutor shells out to the git binary.
type gitExecutor struct{}

// NewGitExecutor returns the default CLI-backed executor.
func NewGitExecutor() CommandExecutor {
	return gitExecutor{}
}

func (gitExecutor) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
