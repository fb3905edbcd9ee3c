package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgepilot/orchestrator/internal/model"
)

// worktreeDirName is the directory, relative to the artifacts root, under
// which per-issue worktrees are created. Kept separate from the
// repository itself so cleanup never touches the caller's checkout.
const worktreeDirName = "worktrees"

// MakeWorktree creates a detached working tree for issue on a branch
// named issue/{sequence_number:02d}-{slug(name)}, branched from the
// integration branch's current tip (spec §4.2). Worktrees are rooted
// under artifactsRoot/worktrees so concurrent coder agents never share
// a path.
func (m *Manager) MakeWorktree(ctx context.Context, artifactsRoot string, issue *model.Issue, integrationBranch string) (path string, err error) {
	branch := issue.BranchSlug()
	root := filepath.Join(artifactsRoot, worktreeDirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create worktree root: %w", err)
	}
	worktreePath := filepath.Join(root, sanitize(branch))

	if _, err := git(ctx, m.repoPath, "worktree", "add", "-B", branch, worktreePath, integrationBranch); err != nil {
		return "", fmt.Errorf("create worktree for issue %s: %w", issue.Name, err)
	}

	return worktreePath, nil
}

// CleanupWorktrees removes the given issues' worktrees. Branches named
// in retainBranches are kept; all others are deleted alongside their
// worktree.
func (m *Manager) CleanupWorktrees(ctx context.Context, issues []model.Issue, retainBranches map[string]bool) error {
	var firstErr error
	for _, issue := range issues {
		if issue.WorktreePath == "" {
			continue
		}
		if _, err := git(ctx, m.repoPath, "worktree", "remove", "--force", issue.WorktreePath); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove worktree for %s: %w", issue.Name, err)
			}
			continue
		}
		if retainBranches == nil || !retainBranches[issue.BranchName] {
			_, _ = git(ctx, m.repoPath, "branch", "-D", issue.BranchName)
		}
	}
	return firstErr
}

// ReconcileWorktrees removes worktrees on disk that are not referenced
// by any issue in expectedIssueNames (orphans left by a crash), and
// reports which of expectedIssueNames are missing their worktree so the
// scheduler can recreate them on resume (spec §5 "Resume semantics").
func (m *Manager) ReconcileWorktrees(ctx context.Context, artifactsRoot string, expected map[string]string) (missing []string, err error) {
	root := filepath.Join(artifactsRoot, worktreeDirName)
	entries, readErr := os.ReadDir(root)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			for name := range expected {
				missing = append(missing, name)
			}
			return missing, nil
		}
		return nil, fmt.Errorf("read worktree root: %w", readErr)
	}

	onDisk := make(map[string]bool, len(entries))
	for _, e := range entries {
		onDisk[e.Name()] = true
	}

	wanted := make(map[string]bool, len(expected))
	for name, path := range expected {
		wanted[filepath.Base(path)] = true
		if !onDisk[filepath.Base(path)] {
			missing = append(missing, name)
		}
	}

	for diskName := range onDisk {
		if !wanted[diskName] {
			_, _ = git(ctx, m.repoPath, "worktree", "remove", "--force", filepath.Join(root, diskName))
		}
	}

	if _, err := git(ctx, m.repoPath, "worktree", "prune"); err != nil {
		return missing, fmt.Errorf("prune worktrees: %w", err)
	}
	return missing, nil
}

func sanitize(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}
