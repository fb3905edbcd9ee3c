package workspace

import (
	"context"
	"strings"

	"github.com/forgepilot/orchestrator/internal/model"
)

// MergeLevel merges each completed issue's branch into integrationBranch
// in sequence order (spec §4.2). A transient merge failure is retried
// once before the branch is declared failed. needs_integration_tests is
// set whenever at least one branch required conflict resolution.
func (m *Manager) MergeLevel(ctx context.Context, issues []model.Issue, integrationBranch string) model.MergeResult {
	sorted := make([]model.Issue, len(issues))
	copy(sorted, issues)
	sortBySequence(sorted)

	result := model.MergeResult{}
	for _, issue := range sorted {
		outcome := m.mergeOne(ctx, issue, integrationBranch)
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Status != model.MergeFailed {
			result.NeedsIntegrationTests = result.NeedsIntegrationTests || outcome.Status == model.MergeConflictResolved
		}
	}
	return result
}

func (m *Manager) mergeOne(ctx context.Context, issue model.Issue, integrationBranch string) model.BranchMergeOutcome {
	outcome, transient := m.attemptMerge(ctx, issue, integrationBranch)
	if transient {
		outcome, _ = m.attemptMerge(ctx, issue, integrationBranch)
	}
	return outcome
}

// attemptMerge performs one merge try. The bool return reports whether
// the failure looked transient (worth a single retry) rather than a
// genuine conflict.
func (m *Manager) attemptMerge(ctx context.Context, issue model.Issue, integrationBranch string) (model.BranchMergeOutcome, bool) {
	if _, err := git(ctx, m.repoPath, "checkout", integrationBranch); err != nil {
		return model.BranchMergeOutcome{
			IssueName: issue.Name,
			Branch:    issue.BranchName,
			Status:    model.MergeFailed,
			Error:     err.Error(),
		}, true
	}

	out, err := git(ctx, m.repoPath, "merge", "--no-edit", issue.BranchName)
	if err == nil {
		sha, _ := m.resolveSHA(ctx, integrationBranch)
		return model.BranchMergeOutcome{
			IssueName: issue.Name,
			Branch:    issue.BranchName,
			Status:    model.MergeMerged,
			CommitSHA: sha,
		}, false
	}

	if strings.Contains(out, "CONFLICT") {
		// Take-theirs is the documented conflict-resolution strategy for
		// a non-interactive merge gate: the issue's own branch is the
		// more recent, more specific work for these files.
		if _, resolveErr := git(ctx, m.repoPath, "checkout", "--theirs", "."); resolveErr == nil {
			if _, addErr := git(ctx, m.repoPath, "add", "-A"); addErr == nil {
				if _, commitErr := git(ctx, m.repoPath, "commit", "--no-edit"); commitErr == nil {
					sha, _ := m.resolveSHA(ctx, integrationBranch)
					return model.BranchMergeOutcome{
						IssueName: issue.Name,
						Branch:    issue.BranchName,
						Status:    model.MergeConflictResolved,
						Strategy:  "take-theirs",
						CommitSHA: sha,
					}, false
				}
			}
		}
		_, _ = git(ctx, m.repoPath, "merge", "--abort")
		return model.BranchMergeOutcome{
			IssueName: issue.Name,
			Branch:    issue.BranchName,
			Status:    model.MergeFailed,
			Error:     "unresolvable conflict: " + out,
		}, false
	}

	return model.BranchMergeOutcome{
		IssueName: issue.Name,
		Branch:    issue.BranchName,
		Status:    model.MergeFailed,
		Error:     err.Error(),
	}, true
}

func sortBySequence(issues []model.Issue) {
	for i := 1; i < len(issues); i++ {
		for j := i; j > 0 && issues[j].SequenceNumber < issues[j-1].SequenceNumber; j-- {
			issues[j], issues[j-1] = issues[j-1], issues[j]
		}
	}
}
