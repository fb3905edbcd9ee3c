// Package verify implements the Verify-Fix Loop (C9): after the DAG
// scheduler completes, a verifier agent checks every PRD acceptance
// criterion against the merged integration branch, and a fix-generator
// agent turns any failures into new, minimally scoped issues that feed
// back into the scheduler as an additional level.
package verify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/logging"
	"github.com/forgepilot/orchestrator/internal/model"
)

// Config bounds the number of verify-fix cycles for a run.
type Config struct {
	MaxVerifyFixCycles int
}

// Loop drives criterion verification and fix-issue generation.
type Loop struct {
	backend  agent.Backend
	agentCfg *agent.Config
	cfg      Config
	log      *slog.Logger
}

// New constructs a Loop.
func New(backend agent.Backend, agentCfg *agent.Config, cfg Config) *Loop {
	return &Loop{backend: backend, agentCfg: agentCfg, cfg: cfg, log: logging.WithComponent("verify")}
}

// MaxCycles returns the configured verify-fix cycle budget.
func (l *Loop) MaxCycles() int { return l.cfg.MaxVerifyFixCycles }

// CriterionVerdict is the verifier's per-criterion judgment.
type CriterionVerdict struct {
	Criterion     string `json:"criterion"`
	Passed        bool   `json:"passed"`
	Justification string `json:"justification"`
}

type verifyPayload struct {
	Verdicts []CriterionVerdict `json:"verdicts"`
}

type fixPayload struct {
	Issues []model.Issue `json:"issues"`
}

// Verify invokes the verifier agent over every PRD acceptance criterion
// against the merged tree at repoPath.
func (l *Loop) Verify(ctx context.Context, prd *model.PRD, repoPath string) ([]CriterionVerdict, error) {
	result := agent.Invoke(ctx, l.backend, agent.RoleVerifier,
		map[string]any{"prd": prd, "repo_path": repoPath},
		l.agentCfg.ConstraintsFor(agent.RoleVerifier, ""),
		agent.DecodeJSON[verifyPayload],
	)
	if !result.Ok() {
		return nil, fmt.Errorf("verifier: %w", result.Err)
	}
	return result.Value.Verdicts, nil
}

// FailedCriteria filters verdicts down to the failing ones.
func FailedCriteria(verdicts []CriterionVerdict) []CriterionVerdict {
	var failed []CriterionVerdict
	for _, v := range verdicts {
		if !v.Passed {
			failed = append(failed, v)
		}
	}
	return failed
}

// GenerateFixIssues invokes the fix-generator agent to produce targeted
// new issues (minimal scope, acceptance criteria drawn from the failed
// PRD criteria), assigning them fresh sequence numbers above the
// current highest.
func (l *Loop) GenerateFixIssues(ctx context.Context, failed []CriterionVerdict, repoPath string, nextSequence int) ([]model.Issue, error) {
	result := agent.Invoke(ctx, l.backend, agent.RoleFixGenerator,
		map[string]any{"failed_criteria": failed, "repo_path": repoPath},
		l.agentCfg.ConstraintsFor(agent.RoleFixGenerator, ""),
		agent.DecodeJSON[fixPayload],
	)
	if !result.Ok() {
		return nil, fmt.Errorf("fix generator: %w", result.Err)
	}
	issues := result.Value.Issues
	for i := range issues {
		issues[i].SequenceNumber = nextSequence
		nextSequence++
	}
	return issues, nil
}

// RemainingAsDebt converts still-failing criteria into DebtItems once
// the cycle budget is exhausted (spec §4.10: "remaining failures become
// DebtItems").
func RemainingAsDebt(issueName string, failed []CriterionVerdict) []model.DebtItem {
	items := make([]model.DebtItem, 0, len(failed))
	for _, f := range failed {
		items = append(items, model.DebtItem{
			Kind:          model.DebtUnmetAcceptanceCriterion,
			Criterion:     f.Criterion,
			IssueName:     issueName,
			Severity:      model.SeverityMedium,
			Justification: f.Justification,
		})
	}
	return items
}
