// Package workspace implements the Git Workspace Manager (C3):
// isolated per-issue worktrees on named branches, merged in sequence
// order into an integration branch.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/forgepilot/orchestrator/internal/logging"
)

// git runs a git subcommand in dir and returns its combined output,
// wrapping any failure with the command and output for diagnosis — the
// same convention the teacher's git operations use throughout.
func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out)
	}
	return string(out), nil
}

// Manager owns git worktree and merge operations for a single
// repository clone.
type Manager struct {
	repoPath string
	log      *slog.Logger
}

// New constructs a Manager rooted at repoPath.
func New(repoPath string) *Manager {
	return &Manager{repoPath: repoPath, log: logging.WithComponent("workspace")}
}

// InitResult is the outcome of InitIntegration.
type InitResult struct {
	IntegrationBranch string
	OriginalBranch    string
	InitialCommitSHA  string
}

// InitIntegration creates an integration branch from baseRef, recording
// the original branch and the initial commit SHA so DAGState.Git can be
// populated. Any failure is returned to the caller; Scheduler.NewState
// passes it on, so a run does not start without an integration branch.
func (m *Manager) InitIntegration(ctx context.Context, baseRef string) (*InitResult, error) {
	originalBranch, err := m.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("determine original branch: %w", err)
	}

	sha, err := m.resolveSHA(ctx, baseRef)
	if err != nil {
		return nil, fmt.Errorf("resolve base ref %s: %w", baseRef, err)
	}

	integrationBranch := fmt.Sprintf("forgepilot/integration-%d", time.Now().Unix())
	if _, err := git(ctx, m.repoPath, "branch", integrationBranch, baseRef); err != nil {
		return nil, fmt.Errorf("create integration branch: %w", err)
	}

	return &InitResult{
		IntegrationBranch: integrationBranch,
		OriginalBranch:    originalBranch,
		InitialCommitSHA:  sha,
	}, nil
}

// CurrentBranch returns the checked-out branch name.
func (m *Manager) CurrentBranch(ctx context.Context) (string, error) {
	out, err := git(ctx, m.repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (m *Manager) resolveSHA(ctx context.Context, ref string) (string, error) {
	out, err := git(ctx, m.repoPath, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
