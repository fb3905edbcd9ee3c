package scheduler_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/forgepilot/orchestrator/internal/advisor"
	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/agent/agenttest"
	"github.com/forgepilot/orchestrator/internal/codingloop"
	"github.com/forgepilot/orchestrator/internal/model"
	"github.com/forgepilot/orchestrator/internal/replanner"
	"github.com/forgepilot/orchestrator/internal/scheduler"
	"github.com/forgepilot/orchestrator/internal/store"
	"github.com/forgepilot/orchestrator/internal/workspace"
)

// initRepo creates a throwaway git repository with one commit on main,
// matching the workspace package's own test fixture.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

// newScheduler wires a Scheduler over a scripted Mock backend, a real git
// repo, and a real filesystem artifact store, mirroring how the top-level
// build entry point constructs one.
func newScheduler(t *testing.T, mock *agenttest.Mock, cfg scheduler.Config) (*scheduler.Scheduler, string, string) {
	t.Helper()
	return newSchedulerWithCodingIterations(t, mock, cfg, 2)
}

func newSchedulerWithCodingIterations(t *testing.T, mock *agenttest.Mock, cfg scheduler.Config, maxCodingIterations int) (*scheduler.Scheduler, string, string) {
	t.Helper()
	repo := initRepo(t)
	artifacts := t.TempDir()

	agentCfg := agent.DefaultConfig()
	ws := workspace.New(repo)
	coding := codingloop.New(mock, agentCfg, codingloop.Config{MaxCodingIterations: maxCodingIterations})
	adv := advisor.New(mock, agentCfg, advisor.Config{MaxAdvisorInvocations: 2})
	rep := replanner.New(mock, agentCfg, replanner.Config{MaxReplans: 2})
	st, err := store.Open(artifacts)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	sched := scheduler.New(ws, coding, adv, rep, st, nil, nil, mock, agentCfg, cfg)
	return sched, repo, artifacts
}

func containsName(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func TestRunLevel_HappyPathCompletesAndAdvances(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleCoder, map[string]any{"summary": "added the widget", "files_touched": []string{"widget.go"}})
	mock.Script(agent.RoleReviewer, map[string]any{"verdict": "approve"})

	sched, repo, artifacts := newScheduler(t, mock, scheduler.Config{
		ConcurrencyCap: 2, EnableAdvisor: true, EnableReplanning: true,
		MaxAdvisorInvocations: 2, MaxReplans: 2,
	})

	plan := &model.PlanResult{
		Issues:    []model.Issue{{Name: "add-widget", SequenceNumber: 1}},
		Levels:    [][]string{{"add-widget"}},
		Rationale: "single trivial issue",
	}

	ctx := context.Background()
	state, err := sched.NewState(ctx, "run-1", repo, artifacts, plan)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}

	if err := sched.Run(ctx, state, &model.PRD{Goal: "ship widget"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Status != "completed" {
		t.Errorf("Status = %q, want completed", state.Status)
	}
	if !containsName(state.Completed, "add-widget") {
		t.Errorf("expected add-widget completed, got %+v", state.Completed)
	}
	if state.CurrentLevel != len(state.Levels) {
		t.Errorf("CurrentLevel = %d, want %d (past the last level)", state.CurrentLevel, len(state.Levels))
	}
	if len(state.MergeResults) != 1 || len(state.MergeResults[0].Outcomes) != 1 {
		t.Fatalf("expected one merge result with one outcome, got %+v", state.MergeResults)
	}
	if state.MergeResults[0].Outcomes[0].Status != model.MergeMerged {
		t.Errorf("merge status = %q, want merged", state.MergeResults[0].Outcomes[0].Status)
	}
}

func TestRunLevel_AdvisorAcceptWithDebtCompletesIssueAndRecordsDebt(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleCoder, map[string]any{"summary": "partial widget", "files_touched": []string{"widget.go"}})
	mock.Script(agent.RoleReviewer, map[string]any{"verdict": "fix", "feedback": "missing edge case"})
	mock.Script(agent.RoleAdvisor, map[string]any{
		"kind":          "accept_with_debt",
		"justification": "edge case is out of scope for this pass",
		"debt_items": []map[string]any{
			{"kind": "unmet_acceptance_criterion", "criterion": "handles empty input", "issue_name": "add-widget", "severity": "medium", "justification": "deferred"},
		},
	})

	sched, repo, artifacts := newScheduler(t, mock, scheduler.Config{
		ConcurrencyCap: 2, EnableAdvisor: true, EnableReplanning: true,
		MaxAdvisorInvocations: 2, MaxReplans: 2,
	})

	plan := &model.PlanResult{
		Issues:    []model.Issue{{Name: "add-widget", SequenceNumber: 1}},
		Levels:    [][]string{{"add-widget"}},
		Rationale: "single issue that never fully satisfies review",
	}

	ctx := context.Background()
	state, err := sched.NewState(ctx, "run-2", repo, artifacts, plan)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	if err := sched.Run(ctx, state, &model.PRD{Goal: "ship widget"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !containsName(state.Completed, "add-widget") {
		t.Errorf("expected add-widget completed (with debt), got completed=%+v unrecoverable=%+v", state.Completed, state.FailedUnrecoverable)
	}
	if len(state.AccumulatedDebt) != 1 {
		t.Fatalf("expected 1 accumulated debt item, got %+v", state.AccumulatedDebt)
	}
	if state.AccumulatedDebt[0].Kind != model.DebtUnmetAcceptanceCriterion {
		t.Errorf("debt kind = %q, want unmet_acceptance_criterion", state.AccumulatedDebt[0].Kind)
	}
}

func TestRunLevel_ReplanGateContinuesPastAnEscalatedFailure(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleCoder, map[string]any{"summary": "stuck", "files_touched": []string{}})
	mock.Script(agent.RoleReviewer, map[string]any{"verdict": "block", "reason": "cannot satisfy acceptance criteria"})
	mock.ScriptStatus(agent.RoleReplanner, agent.StatusError, "replanner agent crashed")

	sched, repo, artifacts := newScheduler(t, mock, scheduler.Config{
		ConcurrencyCap: 1, EnableAdvisor: false, EnableReplanning: true,
		MaxAdvisorInvocations: 1, MaxReplans: 2,
	})

	plan := &model.PlanResult{
		Issues:    []model.Issue{{Name: "impossible-issue", SequenceNumber: 1}},
		Levels:    [][]string{{"impossible-issue"}},
		Rationale: "single issue the reviewer always blocks",
	}

	ctx := context.Background()
	state, err := sched.NewState(ctx, "run-3", repo, artifacts, plan)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	if err := sched.Run(ctx, state, &model.PRD{Goal: "ship the impossible"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.ReplanCount == 0 {
		t.Error("expected the replan gate to have been invoked at least once")
	}
	if len(state.ReplanHistory) == 0 || !state.ReplanHistory[0].Accepted {
		t.Errorf("expected an accepted continue entry in replan history, got %+v", state.ReplanHistory)
	}
	if state.Status != "completed" {
		t.Errorf("Status = %q, want completed (CONTINUE still advances past the level)", state.Status)
	}
}

func TestRunLevel_SplitGateInsertsSubIssuesWithFreshSequenceNumbers(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleCoder, map[string]any{"summary": "too large", "files_touched": []string{}})
	// The parent issue's single coding iteration gets "fix" and exhausts
	// into the advisor; both split-off sub-issues then consume (and,
	// since the queue repeats its last entry, keep reusing) "approve" on
	// their own first iteration, so the run terminates instead of
	// re-splitting forever.
	mock.Script(agent.RoleReviewer, map[string]any{"verdict": "fix", "feedback": "scope is too broad"})
	mock.Script(agent.RoleReviewer, map[string]any{"verdict": "approve"})
	mock.Script(agent.RoleAdvisor, map[string]any{
		"kind":          "split",
		"justification": "this issue bundles two unrelated changes",
		"sub_issues": []map[string]any{
			{"name": "sub-a"},
			{"name": "sub-b"},
		},
	})

	sched, repo, artifacts := newSchedulerWithCodingIterations(t, mock, scheduler.Config{
		ConcurrencyCap: 1, EnableAdvisor: true, EnableReplanning: false,
		MaxAdvisorInvocations: 1, MaxReplans: 0,
	}, 1)

	plan := &model.PlanResult{
		Issues:    []model.Issue{{Name: "too-broad", SequenceNumber: 1}},
		Levels:    [][]string{{"too-broad"}},
		Rationale: "single oversized issue",
	}

	ctx := context.Background()
	state, err := sched.NewState(ctx, "run-4", repo, artifacts, plan)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}

	if err := sched.Run(ctx, state, &model.PRD{Goal: "ship both halves"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !containsName(state.FailedRecoverable, "too-broad") {
		t.Errorf("expected too-broad marked failed_recoverable after split, got %+v", state.FailedRecoverable)
	}
	if _, ok := state.Issues["sub-a"]; !ok {
		t.Error("expected sub-a to be inserted into the graph")
	}
	if _, ok := state.Issues["sub-b"]; !ok {
		t.Error("expected sub-b to be inserted into the graph")
	}
	subA := state.Issues["sub-a"]
	subB := state.Issues["sub-b"]
	if subA.SequenceNumber <= 1 || subB.SequenceNumber <= 1 {
		t.Errorf("expected fresh sequence numbers > 1, got sub-a=%d sub-b=%d", subA.SequenceNumber, subB.SequenceNumber)
	}
}
