// Package orchestrator wires every component (C1-C10) into the four
// entry points a caller actually talks to (spec §6): build, plan,
// execute, and resume_build. It owns nothing domain-specific itself —
// it constructs one agent Backend per run, threads it through the
// Planning Pipeline, DAG Scheduler, and Verify-Fix Loop, and reduces
// their results into a single BuildResult.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/forgepilot/orchestrator/internal/advisor"
	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/budget"
	"github.com/forgepilot/orchestrator/internal/codingloop"
	"github.com/forgepilot/orchestrator/internal/config"
	"github.com/forgepilot/orchestrator/internal/logging"
	"github.com/forgepilot/orchestrator/internal/memory"
	"github.com/forgepilot/orchestrator/internal/model"
	"github.com/forgepilot/orchestrator/internal/planning"
	"github.com/forgepilot/orchestrator/internal/replanner"
	"github.com/forgepilot/orchestrator/internal/scheduler"
	"github.com/forgepilot/orchestrator/internal/store"
	"github.com/forgepilot/orchestrator/internal/verify"
	"github.com/forgepilot/orchestrator/internal/workspace"
)

// artifactsSubdir is where build/plan/execute root a run's artifacts
// under the repository the caller pointed us at, matching spec §6's
// "artifacts/execution/checkpoint.<ext>" layout.
const artifactsSubdir = "artifacts"

var log = logging.WithComponent("orchestrator")

// components bundles every long-lived subsystem a run needs, built
// once per entry point from a single agent.Backend so every role in
// the run talks to the same CLI process family.
type components struct {
	backend    agent.Backend
	tracker    *budget.Tracker
	ws         *workspace.Manager
	planner    *planning.Pipeline
	sched      *scheduler.Scheduler
	verifyLoop *verify.Loop
	store      *store.Store
	mem        *memory.Store // nil when enable_learning is false
}

func newComponents(cfg *config.Config, repoPath, artifactsPath string) (*components, error) {
	return newComponentsWithBackend(cfg, repoPath, artifactsPath, nil)
}

// newComponentsWithBackend builds the same components newComponents does,
// except a non-nil backendOverride is used in place of constructing a
// CLIBackend from cfg.Agent.Runtime — the seam orchestrator_test.go uses
// to run the full Plan/Execute/Build/ResumeBuild flow against a scripted
// agenttest.Mock instead of shelling out to a real agent runtime.
func newComponentsWithBackend(cfg *config.Config, repoPath, artifactsPath string, backendOverride agent.Backend) (*components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	tracker := budget.NewTracker(cfg.Budget)
	var backend agent.Backend = backendOverride
	if backend == nil {
		backend = agent.NewCLIBackend(cfg.Agent.Runtime, agent.CLIBackendConfig{Command: cfg.Agent.Runtime})
	}
	backend = budget.NewTrackingBackend(backend, tracker)

	st, err := store.Open(artifactsPath)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	var mem *memory.Store
	if cfg.EnableLearning {
		mem, err = memory.Open(filepath.Join(artifactsPath, "memory.sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open shared memory: %w", err)
		}
	}

	ws := workspace.New(repoPath)
	coding := codingloop.New(backend, cfg.Agent, codingloop.Config{MaxCodingIterations: cfg.MaxCodingIterations})
	adv := advisor.New(backend, cfg.Agent, advisor.Config{MaxAdvisorInvocations: cfg.MaxAdvisorInvocations})
	rep := replanner.New(backend, cfg.Agent, replanner.Config{MaxReplans: cfg.MaxReplans})

	sched := scheduler.New(ws, coding, adv, rep, st, mem, cfg.Quality, backend, cfg.Agent, scheduler.Config{
		MaxAdvisorInvocations: cfg.MaxAdvisorInvocations,
		MaxReplans:            cfg.MaxReplans,
		ConcurrencyCap:        cfg.EffectiveConcurrencyCap(),
		EnableAdvisor:         cfg.EnableAdvisor,
		EnableReplanning:      cfg.EnableReplanning,
	})

	return &components{
		backend:    backend,
		tracker:    tracker,
		ws:         ws,
		planner:    planning.New(backend, cfg.Agent, planning.Config{MaxReviewIterations: cfg.MaxReviewIterations}),
		sched:      sched,
		verifyLoop: verify.New(backend, cfg.Agent, verify.Config{MaxVerifyFixCycles: cfg.MaxVerifyFixCycles}),
		store:      st,
		mem:        mem,
	}, nil
}

func (c *components) Close() {
	if c.mem != nil {
		_ = c.mem.Close()
	}
}

func artifactsPathFor(repoPath string) string {
	return filepath.Join(repoPath, artifactsSubdir)
}

// Plan runs the Planning Pipeline (C4) alone and returns its PlanResult,
// persisting the PRD, architecture, tech-lead review and issue list under
// plan/ once the whole pipeline has finished (spec §6 "plan").
func Plan(ctx context.Context, goal, repoPath string, cfg *config.Config) (*model.PlanResult, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	comps, err := newComponents(cfg, repoPath, artifactsPathFor(repoPath))
	if err != nil {
		return nil, err
	}
	defer comps.Close()
	return planWith(ctx, comps, goal, repoPath)
}

func planWith(ctx context.Context, comps *components, goal, repoPath string) (*model.PlanResult, error) {
	result, err := comps.planner.Plan(ctx, goal, repoPath)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	_ = comps.store.WritePlanArtifact("prd", result.PRD)
	_ = comps.store.WritePlanArtifact("architecture", result.Architecture)
	_ = comps.store.WritePlanArtifact("tech_lead_review", result.TechLeadReview)
	_ = comps.store.WritePlanArtifact("issues", result.Issues)
	return result, nil
}

// Execute runs the DAG Scheduler (C5) over a pre-made plan and returns
// the terminal DAGState (spec §6 "execute"). It does not run the
// Verify-Fix Loop; callers that want the full pipeline's acceptance
// check should use Build instead.
func Execute(ctx context.Context, plan *model.PlanResult, repoPath string, cfg *config.Config) (*model.DAGState, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	artifactsPath := artifactsPathFor(repoPath)
	comps, err := newComponents(cfg, repoPath, artifactsPath)
	if err != nil {
		return nil, err
	}
	defer comps.Close()
	return executeWith(ctx, comps, plan, repoPath, artifactsPath)
}

func executeWith(ctx context.Context, comps *components, plan *model.PlanResult, repoPath, artifactsPath string) (*model.DAGState, error) {
	runID := newRunID()
	state, err := comps.sched.NewState(ctx, runID, repoPath, artifactsPath, plan)
	if err != nil {
		return nil, fmt.Errorf("initialize run state: %w", err)
	}
	state.PRD = &plan.PRD

	if err := comps.sched.Run(ctx, state, &plan.PRD); err != nil {
		return state, fmt.Errorf("scheduler run: %w", err)
	}
	return state, nil
}

// Build runs the full pipeline: plan, execute, then the bounded
// Verify-Fix Loop, reducing everything into a BuildResult (spec §6
// "build"). A failure to set up the run's components (invalid config, an
// artifact store or shared memory that cannot be opened) is returned as
// an error. After that, a fatal planning error aborts before any
// scheduler run, and every failure produces a BuildResult rather than a
// bare error, matching spec §7's "user-visible failure is always a
// BuildResult, never a raw stack trace."
func Build(ctx context.Context, goal, repoPath string, cfg *config.Config) (*model.BuildResult, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	artifactsPath := artifactsPathFor(repoPath)
	comps, err := newComponents(cfg, repoPath, artifactsPath)
	if err != nil {
		return nil, err
	}
	defer comps.Close()
	return buildWith(ctx, comps, goal, repoPath, artifactsPath), nil
}

func buildWith(ctx context.Context, comps *components, goal, repoPath, artifactsPath string) *model.BuildResult {
	plan, err := comps.planner.Plan(ctx, goal, repoPath)
	if err != nil {
		return &model.BuildResult{Status: model.StatusAborted, Diagnostic: fmt.Sprintf("planning failed: %v", err)}
	}
	_ = comps.store.WritePlanArtifact("prd", plan.PRD)
	_ = comps.store.WritePlanArtifact("architecture", plan.Architecture)
	_ = comps.store.WritePlanArtifact("tech_lead_review", plan.TechLeadReview)
	_ = comps.store.WritePlanArtifact("issues", plan.Issues)

	runID := newRunID()
	state, err := comps.sched.NewState(ctx, runID, repoPath, artifactsPath, plan)
	if err != nil {
		return &model.BuildResult{Status: model.StatusAborted, Diagnostic: fmt.Sprintf("initialize run state: %v", err)}
	}
	state.PRD = &plan.PRD

	if err := comps.sched.Run(ctx, state, &plan.PRD); err != nil {
		return &model.BuildResult{Status: model.StatusFailed, Diagnostic: err.Error(), State: state}
	}

	return comps.runVerifyFix(ctx, state, &plan.PRD)
}

// ResumeBuild loads the last checkpoint under artifactsDir, reconciles
// any worktrees left behind by a crash, and continues the scheduler run
// to completion (spec §6 "resume_build").
func ResumeBuild(ctx context.Context, repoPath, artifactsDir string, cfg *config.Config) (*model.BuildResult, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	comps, err := newComponents(cfg, repoPath, artifactsDir)
	if err != nil {
		return nil, err
	}
	defer comps.Close()
	return resumeWith(ctx, comps)
}

func resumeWith(ctx context.Context, comps *components) (*model.BuildResult, error) {
	state, err := comps.store.LoadCheckpoint()
	if err != nil {
		if errors.Is(err, store.ErrNoCheckpoint) {
			return &model.BuildResult{Status: model.StatusAborted, Diagnostic: "no checkpoint to resume from"}, nil
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	expected := make(map[string]string, len(state.CurrentLevelIssues()))
	for _, name := range state.CurrentLevelIssues() {
		expected[name] = state.Issues[name].WorktreePath
	}
	if _, err := comps.ws.ReconcileWorktrees(ctx, state.ArtifactsPath, expected); err != nil {
		log.Warn("worktree reconciliation failed, resuming anyway", "error", err)
	}

	prd := state.PRD
	if err := comps.sched.Run(ctx, state, prd); err != nil {
		return &model.BuildResult{Status: model.StatusFailed, Diagnostic: err.Error(), State: state}, nil
	}

	return comps.runVerifyFix(ctx, state, prd), nil
}

// runVerifyFix drives the bounded Verify-Fix Loop (C9) after the
// scheduler reaches a terminal state, feeding generated fix issues back
// into the scheduler as an additional level (spec §4.10), then reduces
// the final state into a BuildResult.
func (c *components) runVerifyFix(ctx context.Context, state *model.DAGState, prd *model.PRD) *model.BuildResult {
	for state.VerifyFixCyclesUsed < c.verifyLoop.MaxCycles() {
		verdicts, err := c.verifyLoop.Verify(ctx, prd, state.RepoPath)
		if err != nil {
			log.Warn("verify loop invocation failed, treating as clean", "error", err)
			break
		}
		failed := verify.FailedCriteria(verdicts)
		if len(failed) == 0 {
			break
		}

		state.VerifyFixCyclesUsed++
		nextSeq := 1
		for _, iss := range state.Issues {
			if iss.SequenceNumber >= nextSeq {
				nextSeq = iss.SequenceNumber + 1
			}
		}
		fixIssues, err := c.verifyLoop.GenerateFixIssues(ctx, failed, state.RepoPath, nextSeq)
		if err != nil {
			log.Warn("fix-issue generation failed, converting remaining failures to debt", "error", err)
			state.AddDebt(verify.RemainingAsDebt("build", failed)...)
			break
		}

		for _, iss := range fixIssues {
			state.Issues[iss.Name] = iss
		}
		if err := state.RecomputeLevels(); err != nil {
			log.Warn("fix issues produced an invalid graph, converting remaining failures to debt", "error", err)
			state.AddDebt(verify.RemainingAsDebt("build", failed)...)
			break
		}
		// Every previously-remaining issue already settled into a
		// terminal bucket, so RecomputeLevels produced a fresh graph
		// spanning only the new fix issues; resume scheduling at its
		// level 0 (mirrors the split/replan gates' own reset).
		state.CurrentLevel = 0

		if err := c.sched.Run(ctx, state, prd); err != nil {
			log.Warn("scheduler run during verify-fix cycle failed", "error", err)
			break
		}

		if state.VerifyFixCyclesUsed >= c.verifyLoop.MaxCycles() {
			finalVerdicts, err := c.verifyLoop.Verify(ctx, prd, state.RepoPath)
			if err == nil {
				state.AddDebt(verify.RemainingAsDebt("build", verify.FailedCriteria(finalVerdicts))...)
			}
			break
		}
	}

	return reduceBuildResult(state, c.tracker)
}

// reduceBuildResult turns a terminal DAGState into the BuildResult
// contract every entry point converges on (spec §7).
func reduceBuildResult(state *model.DAGState, tracker *budget.Tracker) *model.BuildResult {
	status := model.StatusSuccess
	switch {
	case state.Status == "cancelled":
		status = model.StatusCancelled
	case len(state.FailedUnrecoverable) > 0:
		status = model.StatusPartial
	case len(state.AccumulatedDebt) > 0:
		status = model.StatusPartial
	}

	phases := make([]model.PhaseSummary, 0, len(state.Levels))
	for idx, level := range state.Levels {
		ps := model.PhaseSummary{Level: idx, Issues: level}
		for _, name := range level {
			switch {
			case containsName(state.Completed, name):
				ps.Completed = append(ps.Completed, name)
			case containsName(state.FailedUnrecoverable, name), containsName(state.FailedRecoverable, name):
				ps.Failed = append(ps.Failed, name)
			}
		}
		phases = append(phases, ps)
	}

	result := &model.BuildResult{
		Status:          status,
		Phases:          phases,
		AccumulatedDebt: state.AccumulatedDebt,
		State:           state,
	}
	if tracker != nil {
		result.EstimatedCostUSD = tracker.EstimatedCostUSD()
	}
	return result
}

func containsName(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

var runCounter int

// newRunID produces a short, readable run identifier. It increments a
// process-local counter rather than reading the clock or a random
// source, both of which are off-limits in the deterministic checkpoint
// path this package shares with its tests.
func newRunID() string {
	runCounter++
	return fmt.Sprintf("run-%04d", runCounter)
}
