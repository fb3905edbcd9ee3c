// Package scheduler implements the DAG Scheduler (C5): the
// level-synchronous executor that drives every issue in a plan through
// the Coding Loop, merges completed branches, runs integration tests,
// accumulates debt, handles splits, and triggers a replan when a level
// cannot make forward progress on its own.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/forgepilot/orchestrator/internal/advisor"
	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/codingloop"
	"github.com/forgepilot/orchestrator/internal/logging"
	"github.com/forgepilot/orchestrator/internal/memory"
	"github.com/forgepilot/orchestrator/internal/model"
	"github.com/forgepilot/orchestrator/internal/quality"
	"github.com/forgepilot/orchestrator/internal/replanner"
	"github.com/forgepilot/orchestrator/internal/store"
	"github.com/forgepilot/orchestrator/internal/workspace"
)

// Config bounds a run's scheduling behavior (spec §6, §5).
type Config struct {
	MaxAdvisorInvocations int
	MaxReplans            int
	ConcurrencyCap        int
	EnableAdvisor         bool
	EnableReplanning      bool
}

// Scheduler wires the Git Workspace Manager, Coding Loop, Issue
// Advisor, Replanner, and Artifact Store into the level-synchronous
// gate sequence (spec §4.5).
type Scheduler struct {
	workspace *workspace.Manager
	coding    *codingloop.Loop
	advisor   *advisor.Advisor
	replanner *replanner.Replanner
	store     *store.Store
	memory    *memory.Store   // optional; nil disables C10 reads/writes
	quality   *quality.Config // optional; nil or Enabled=false skips the mechanical gate pass
	backend   agent.Backend
	agentCfg  *agent.Config
	cfg       Config
	log       *slog.Logger
}

// New constructs a Scheduler. mem and qualityCfg may be nil (Shared
// Memory and the mechanical quality-gate pass are both optional).
func New(ws *workspace.Manager, coding *codingloop.Loop, adv *advisor.Advisor, rep *replanner.Replanner, st *store.Store, mem *memory.Store, qualityCfg *quality.Config, backend agent.Backend, agentCfg *agent.Config, cfg Config) *Scheduler {
	return &Scheduler{
		workspace: ws, coding: coding, advisor: adv, replanner: rep, store: st, memory: mem, quality: qualityCfg,
		backend: backend, agentCfg: agentCfg, cfg: cfg, log: logging.WithComponent("scheduler"),
	}
}

// NewState builds the initial DAGState for a plan, including the
// integration branch created by the Git Workspace Manager.
func (s *Scheduler) NewState(ctx context.Context, runID, repoPath, artifactsPath string, plan *model.PlanResult) (*model.DAGState, error) {
	init, err := s.workspace.InitIntegration(ctx, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("init integration branch: %w", err)
	}

	state := model.NewDAGState(runID, repoPath, artifactsPath)
	state.PlanSummary = plan.Rationale
	state.Levels = plan.Levels
	state.Git = model.GitTracking{
		IntegrationBranch: init.IntegrationBranch,
		OriginalBranch:    init.OriginalBranch,
		InitialCommitSHA:  init.InitialCommitSHA,
	}
	for _, iss := range plan.Issues {
		state.Issues[iss.Name] = iss
	}
	return state, nil
}

// Run drives state through every remaining level's gate sequence until
// the run completes, is cancelled, or aborts. It is resumable: calling
// Run again on a checkpointed state continues from step 1 of the
// current level, never mid-level (spec §4.5 resume semantics).
func (s *Scheduler) Run(ctx context.Context, state *model.DAGState, prd *model.PRD) error {
	for state.CurrentLevel < len(state.Levels) {
		select {
		case <-ctx.Done():
			state.Status = "cancelled"
			return s.checkpoint(state)
		default:
		}

		if err := s.runLevel(ctx, state); err != nil {
			return err
		}
	}
	state.Status = "completed"
	return s.checkpoint(state)
}

// runLevel executes the full 11-step gate sequence from spec §4.5 for
// state's current level.
func (s *Scheduler) runLevel(ctx context.Context, state *model.DAGState) error {
	levelIssues := state.CurrentLevelIssues()
	if len(levelIssues) == 0 {
		state.CurrentLevel++
		return nil
	}

	// 1. Workspace setup.
	if err := s.setupWorktrees(ctx, state, levelIssues); err != nil {
		return fmt.Errorf("workspace setup: %w", err)
	}

	// 2. Parallel execution.
	results := s.executeLevel(ctx, state, levelIssues)

	// 3. Classification.
	completed, completedWithDebt, needsSplit, escalated, unrecoverable := classify(results)

	// 4. Merge gate.
	conflicts := model.DetectFileConflicts(state.CurrentLevel, state.Issues, levelIssues)
	state.FileConflicts = append(state.FileConflicts, conflicts...)
	mergeable := append(append([]model.Issue{}, completed...), completedWithDebt...)
	mergeResult := s.mergeLevel(ctx, state, mergeable, conflicts)

	// 5. Integration-test gate.
	if mergeResult.NeedsIntegrationTests {
		s.runIntegrationTests(ctx, state)
	}

	// 6. Debt gate.
	s.applyDebt(state, results, completedWithDebt)

	// 7. Split gate.
	split := s.applySplits(state, needsSplit, results)

	// 8. Replan gate.
	replanned, retried := s.maybeReplan(ctx, state, escalated, unrecoverable)

	// 9. Failure propagation.
	s.propagateFailures(state, escalated, unrecoverable)

	// Finalize terminal failures: any escalated/unrecoverable issue the
	// replan gate did not explicitly keep alive (by naming it in a
	// MODIFY_DAG update) settles into FailedUnrecoverable now, clearing
	// in_flight, rather than staying in_flight forever and resurfacing the
	// next time RecomputeLevels runs (spec §3 I2, §8 scenario 4). If the
	// replan gate already recomputed levels this round, a newly finalized
	// issue has to be re-excluded from that computation.
	if s.finalizeTerminalFailures(state, escalated, unrecoverable, retried) && replanned {
		if err := state.RecomputeLevels(); err != nil {
			s.log.Warn("post-finalization re-level failed, leaving levels unchanged", "error", err)
		}
	}

	// 10. Checkpoint.
	if err := s.checkpoint(state); err != nil {
		return err
	}

	// 11. Advance, unless the split or replan gate already reset
	// current_level to resume from the mutated graph's new level 0.
	if !split && !replanned {
		state.CurrentLevel++
	}
	return nil
}

func (s *Scheduler) setupWorktrees(ctx context.Context, state *model.DAGState, names []string) error {
	for _, name := range names {
		iss := state.Issues[name]
		path, err := s.workspace.MakeWorktree(ctx, state.ArtifactsPath, &iss, state.Git.IntegrationBranch)
		if err != nil {
			return fmt.Errorf("issue %s: %w", name, err)
		}
		iss.WorktreePath = path
		iss.BranchName = iss.BranchSlug()
		state.Issues[name] = iss
	}
	state.SetInFlight(names)
	return nil
}

// executeLevel runs the coding loop for every issue in the level
// concurrently, bounded by the scheduler's concurrency cap, looping
// each issue through the advisor on a non-terminal outcome until it
// reaches a terminal classification or exhausts its advisor budget.
func (s *Scheduler) executeLevel(ctx context.Context, state *model.DAGState, names []string) map[string]*model.IssueResult {
	cap := s.cfg.ConcurrencyCap
	if cap <= 0 {
		cap = len(names)
	}
	sem := make(chan struct{}, cap)

	results := make(map[string]*model.IssueResult, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result := s.runIssueWithAdvisor(ctx, state, name)
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return results
}

// runIssueWithAdvisor runs the coding loop for one issue, consulting
// the advisor on any non-terminal outcome and re-entering the coding
// loop for RETRY_* decisions, bounded by max_advisor_invocations.
func (s *Scheduler) runIssueWithAdvisor(ctx context.Context, state *model.DAGState, name string) *model.IssueResult {
	iss := state.Issues[name]

	for {
		result, err := s.coding.Run(ctx, &iss, iss.WorktreePath)
		state.Issues[name] = iss
		if err != nil {
			return &model.IssueResult{IssueName: name, Outcome: model.OutcomeFailedUnrecoverable, Diagnostic: err.Error()}
		}
		if result.Outcome == model.OutcomeCompleted {
			s.recordMemoryOnCompletion(ctx, &iss, result)
			return result
		}

		if !s.cfg.EnableAdvisor {
			return result
		}

		invocationNumber := iss.AdvisorInvocationsUsed + 1
		decision, err := s.advisor.Decide(ctx, &iss, result, invocationNumber)
		iss.AdvisorInvocationsUsed = invocationNumber
		if err != nil {
			return &model.IssueResult{IssueName: name, Outcome: model.OutcomeFailedEscalated, Diagnostic: "advisor invocation failed: " + err.Error()}
		}

		switch decision.Kind {
		case model.AdvisorRetryModified:
			dropped := iss.DroppedCriteria(decision.DroppedCriteria)
			for _, c := range dropped {
				state.AddDebt(model.DebtItem{Kind: model.DebtDroppedAcceptanceCriterion, Criterion: c, IssueName: name, Severity: model.SeverityMedium, Justification: decision.Justification})
			}
			iss.IterationsUsed = 0
			state.Issues[name] = iss
			continue
		case model.AdvisorRetryApproach:
			iss.ApproachChanges = decision.ApproachChanges
			iss.IterationsUsed = 0
			state.Issues[name] = iss
			continue
		case model.AdvisorSplit:
			return &model.IssueResult{IssueName: name, Outcome: model.OutcomeFailedNeedsSplit, SubIssues: decision.SubIssues, IterationsUsed: iss.IterationsUsed}
		case model.AdvisorAcceptWithDebt:
			state.AddDebt(decision.DebtItems...)
			return &model.IssueResult{IssueName: name, Outcome: model.OutcomeCompletedWithDebt, FinalBranch: iss.BranchName, Debt: decision.DebtItems, IterationsUsed: iss.IterationsUsed}
		case model.AdvisorEscalateToReplan:
			return &model.IssueResult{IssueName: name, Outcome: model.OutcomeFailedEscalated, IterationsUsed: iss.IterationsUsed, Diagnostic: decision.Justification}
		default:
			return &model.IssueResult{IssueName: name, Outcome: model.OutcomeFailedUnrecoverable, Diagnostic: fmt.Sprintf("unrecognized advisor decision %q", decision.Kind)}
		}
	}
}

func (s *Scheduler) recordMemoryOnCompletion(ctx context.Context, iss *model.Issue, result *model.IssueResult) {
	if s.memory == nil {
		return
	}
	_ = s.memory.SetCodebaseConventions(ctx, memory.CodebaseConventions{Summary: result.Diagnostic, WrittenByIssue: iss.Name})
	_ = s.memory.SetInterfaceExport(ctx, memory.InterfaceExport{IssueName: iss.Name})
}

func classify(results map[string]*model.IssueResult) (completed, completedWithDebt []model.Issue, needsSplit, escalated, unrecoverable []string) {
	for name, r := range results {
		switch r.Outcome {
		case model.OutcomeCompleted:
			completed = append(completed, model.Issue{Name: name, BranchName: r.FinalBranch, SequenceNumber: 0})
		case model.OutcomeCompletedWithDebt:
			completedWithDebt = append(completedWithDebt, model.Issue{Name: name, BranchName: r.FinalBranch, SequenceNumber: 0})
		case model.OutcomeFailedNeedsSplit:
			needsSplit = append(needsSplit, name)
		case model.OutcomeFailedEscalated:
			escalated = append(escalated, name)
		case model.OutcomeFailedUnrecoverable:
			unrecoverable = append(unrecoverable, name)
		}
	}
	return
}

// mergeLevel performs the mechanical git merge for the level and, when the
// plan-time or recomputed file-conflict scan found any same-level overlap,
// consults the merger agent with that advisory conflict list (spec §4.4:
// "conflicts are advisory and passed to the merger, not blocking"). The
// merger's own needs_integration_tests judgment is ORed with the mechanical
// conflict-resolution signal from workspace.MergeLevel, since either one
// finding reason to distrust the merged tree is enough to gate on it
// (spec §4.5 step 5).
func (s *Scheduler) mergeLevel(ctx context.Context, state *model.DAGState, mergeable []model.Issue, conflicts []model.FileConflict) model.MergeResult {
	resolved := make([]model.Issue, 0, len(mergeable))
	for _, m := range mergeable {
		full := state.Issues[m.Name]
		resolved = append(resolved, full)
	}

	result := s.workspace.MergeLevel(ctx, resolved, state.Git.IntegrationBranch)

	if len(conflicts) > 0 {
		result.NeedsIntegrationTests = result.NeedsIntegrationTests || s.consultMerger(ctx, state, conflicts)
	}

	state.MergeResults = append(state.MergeResults, result)

	for _, outcome := range result.Outcomes {
		if outcome.Status == model.MergeFailed {
			s.markUnrecoverableWithDebt(state, outcome.IssueName)
			continue
		}
		state.MarkCompleted(outcome.IssueName)
	}
	return result
}

// markUnrecoverableWithDebt moves name into FailedUnrecoverable and
// records one unmet_acceptance_criterion DebtItem per its acceptance
// criteria (spec §8 scenario 4): an issue that never completes still
// accounts for exactly what it promised.
func (s *Scheduler) markUnrecoverableWithDebt(state *model.DAGState, name string) {
	iss := state.Issues[name]
	state.MarkFailedUnrecoverable(name)
	for _, c := range iss.AcceptanceCriteria {
		state.AddDebt(model.DebtItem{
			Kind:      model.DebtUnmetAcceptanceCriterion,
			Criterion: c,
			IssueName: name,
			Severity:  model.SeverityHigh,
		})
	}
}

// consultMerger invokes the merger agent with the level's advisory file
// conflicts and returns its needs_integration_tests judgment. A failed
// invocation is treated conservatively: integration tests are requested
// rather than silently skipped.
func (s *Scheduler) consultMerger(ctx context.Context, state *model.DAGState, conflicts []model.FileConflict) bool {
	type payload struct {
		NeedsIntegrationTests bool   `json:"needs_integration_tests"`
		Notes                 string `json:"notes"`
	}
	result := agent.Invoke(ctx, s.backend, agent.RoleMerger,
		map[string]any{"conflicts": conflicts, "repo_path": state.RepoPath, "integration_branch": state.Git.IntegrationBranch},
		s.agentCfg.ConstraintsFor(agent.RoleMerger, ""),
		agent.DecodeJSON[payload],
	)
	if !result.Ok() {
		s.log.Warn("merger consultation failed, requesting integration tests conservatively", "error", result.Err)
		return true
	}
	if result.Value.Notes != "" {
		s.log.Info("merger notes", "notes", result.Value.Notes)
	}
	return result.Value.NeedsIntegrationTests
}

// runIntegrationTests runs the mechanical quality gates (build/test/lint/
// etc., per the project's quality.Config) against the merged integration
// branch ahead of the agent-driven integration tester, and folds both
// verdicts into a single IntegrationTestResult. The mechanical pass is a
// cheap, deterministic first opinion; the agent still runs so a gate set
// that is too shallow to catch semantic regressions doesn't become the
// only check (spec §4.5 step 5).
func (s *Scheduler) runIntegrationTests(ctx context.Context, state *model.DAGState) {
	type payload struct {
		Passed  bool   `json:"passed"`
		Summary string `json:"summary"`
	}

	var r model.IntegrationTestResult
	r.Level = state.CurrentLevel
	r.Passed = true

	if s.quality != nil && s.quality.Enabled {
		gateResults := quality.RunAll(ctx, state.RepoPath, s.quality)
		if !gateResults.AllPassed {
			r.Passed = false
			for _, failed := range gateResults.GetFailedGates() {
				r.Summary += fmt.Sprintf("quality gate %q failed: %s; ", failed.GateName, failed.Error)
			}
		}
	}

	result := agent.Invoke(ctx, s.backend, agent.RoleIntegrationTester,
		map[string]any{"repo_path": state.RepoPath, "integration_branch": state.Git.IntegrationBranch},
		s.agentCfg.ConstraintsFor(agent.RoleIntegrationTester, ""),
		agent.DecodeJSON[payload],
	)
	if result.Ok() {
		r.Passed = r.Passed && result.Value.Passed
		r.Summary += result.Value.Summary
	} else {
		r.Passed = false
		r.Summary += "integration tester invocation failed: " + result.Err.Error()
	}
	state.IntegrationTestResults = append(state.IntegrationTestResults, r)
}

func (s *Scheduler) applyDebt(state *model.DAGState, results map[string]*model.IssueResult, completedWithDebt []model.Issue) {
	for _, iss := range completedWithDebt {
		r := results[iss.Name]
		if r == nil || len(r.Debt) == 0 {
			continue
		}
		s.propagateDebtNotes(state, iss.Name, r.Debt)
	}
}

// propagateDebtNotes appends debt_notes to every transitive dependent
// of issueName still present in the graph (spec §4.5 step 6).
func (s *Scheduler) propagateDebtNotes(state *model.DAGState, issueName string, debt []model.DebtItem) {
	for name, dep := range state.Issues {
		if !dependsOn(state, name, issueName) {
			continue
		}
		for _, d := range debt {
			note := fmt.Sprintf("upstream issue %q accepted with debt: %s", issueName, d.Justification)
			dep.DebtNotes = append(dep.DebtNotes, note)
		}
		state.Issues[name] = dep
	}
}

func dependsOn(state *model.DAGState, name, target string) bool {
	iss, ok := state.Issues[name]
	if !ok {
		return false
	}
	visited := map[string]bool{}
	var walk func(string) bool
	walk = func(n string) bool {
		if visited[n] {
			return false
		}
		visited[n] = true
		cur, ok := state.Issues[n]
		if !ok {
			return false
		}
		for _, d := range cur.DependsOn {
			if d == target || walk(d) {
				return true
			}
		}
		return false
	}
	_ = iss
	return walk(name)
}

// applySplits inserts each FAILED_NEEDS_SPLIT issue's advisor-provided
// sub-issues into the remaining graph (spec §4.5 step 7). Each sub-issue
// also takes on the parent's own dependencies, and every issue that
// depended on the parent is rewired to depend on all of its sub-issues.
// Sub-issues are releveled starting at a fresh level 0 so the build
// proceeds immediately into them rather than skipping past their level
// (spec §4.4 example 3: "A removed from current level; A1..A3 leveled
// as {A1} then {A2,A3}; build proceeds"). Returns true if the graph was
// mutated.
func (s *Scheduler) applySplits(state *model.DAGState, needsSplit []string, results map[string]*model.IssueResult) bool {
	if len(needsSplit) == 0 {
		return false
	}
	nextSeq := highestSequence(state.Issues) + 1
	for _, name := range needsSplit {
		parent := state.Issues[name]
		state.MarkFailedRecoverable(name)

		r := results[name]
		if r == nil {
			continue
		}
		subNames := make([]string, 0, len(r.SubIssues))
		for _, sub := range r.SubIssues {
			sub.SequenceNumber = nextSeq
			nextSeq++
			sub.DependsOn = append(append([]string{}, sub.DependsOn...), parent.DependsOn...)
			state.Issues[sub.Name] = sub
			subNames = append(subNames, sub.Name)
		}
		for depName, dep := range state.Issues {
			if !containsName(dep.DependsOn, name) {
				continue
			}
			rewired := make([]string, 0, len(dep.DependsOn)+len(subNames))
			for _, d := range dep.DependsOn {
				if d != name {
					rewired = append(rewired, d)
				}
			}
			dep.DependsOn = append(rewired, subNames...)
			state.Issues[depName] = dep
		}
	}
	if err := state.RecomputeLevels(); err != nil {
		s.log.Warn("split gate produced an invalid graph, leaving levels unchanged", "error", err)
		return false
	}
	state.CurrentLevel = 0
	return true
}

func highestSequence(issues map[string]model.Issue) int {
	max := 0
	for _, iss := range issues {
		if iss.SequenceNumber > max {
			max = iss.SequenceNumber
		}
	}
	return max
}

// maybeReplan invokes the replan gate (spec §4.5 step 8) when any
// escalated or unrecoverable failure exists and the replan budget
// remains. Returns whether the graph was mutated (current_level reset
// to 0) and, when a MODIFY_DAG decision explicitly updated one of the
// failed issues in place, the set of names the replanner chose to keep
// alive for a retry rather than abandon. When replanning is disabled or
// the budget is exhausted this returns (false, nil): finalizeTerminalFailures
// then settles every escalated/unrecoverable name, per spec §6 ("treat
// ESCALATED as UNRECOVERABLE" when replanning is off).
func (s *Scheduler) maybeReplan(ctx context.Context, state *model.DAGState, escalated, unrecoverable []string) (replanned bool, retried map[string]bool) {
	if !s.cfg.EnableReplanning || (len(escalated) == 0 && len(unrecoverable) == 0) {
		return false, nil
	}
	if state.ReplanCount >= s.cfg.MaxReplans {
		return false, nil
	}

	state.ReplanCount++
	decision := s.replanner.Decide(ctx, state)
	if err := s.replanner.Apply(state, decision); err != nil {
		s.log.Warn("replan apply failed", "error", err)
		return false, nil
	}
	if decision.Kind == model.ReplanModifyDAG {
		retried = make(map[string]bool, len(decision.Updates))
		for _, u := range decision.Updates {
			retried[u.IssueName] = true
		}
	}
	return decision.Kind == model.ReplanModifyDAG || decision.Kind == model.ReplanReduceScope, retried
}

// finalizeTerminalFailures settles every escalated/unrecoverable issue
// the replan gate left untouched into FailedUnrecoverable. An issue the
// replanner explicitly named in a MODIFY_DAG update is left alone: that
// is the replanner choosing to retry it, not abandon it. An issue the
// replanner removed from the graph entirely is also left alone, since it
// no longer exists to finalize. Returns true if any issue changed state,
// signaling the caller that a just-computed level list may need
// recomputing to exclude it.
func (s *Scheduler) finalizeTerminalFailures(state *model.DAGState, escalated, unrecoverable []string, retried map[string]bool) bool {
	changed := false
	failed := append(append([]string{}, escalated...), unrecoverable...)
	for _, name := range failed {
		if retried[name] {
			continue
		}
		if _, ok := state.Issues[name]; !ok {
			continue // removed from the graph by the replan gate
		}
		if containsName(state.Completed, name) || containsName(state.Skipped, name) || containsName(state.FailedUnrecoverable, name) {
			continue
		}
		s.markUnrecoverableWithDebt(state, name)
		changed = true
	}
	return changed
}

func containsName(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func (s *Scheduler) propagateFailures(state *model.DAGState, escalated, unrecoverable []string) {
	failed := append(append([]string{}, escalated...), unrecoverable...)
	for _, failedName := range failed {
		for name, dep := range state.Issues {
			if !dependsOn(state, name, failedName) {
				continue
			}
			dep.FailureNotes = append(dep.FailureNotes, fmt.Sprintf("dependency %q did not complete successfully", failedName))
			state.Issues[name] = dep
		}
	}
}

func (s *Scheduler) checkpoint(state *model.DAGState) error {
	if s.store == nil {
		return nil
	}
	return s.store.WriteCheckpoint(state)
}
