// Package advisor implements the Issue Advisor (C7): the middle of the
// orchestrator's three nested control loops. It is invoked when the
// Coding Loop (C6) exits early via BLOCK or exhausts its iteration
// budget, and decides how the scheduler should proceed with the issue.
package advisor

import (
	"context"
	"log/slog"

	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/logging"
	"github.com/forgepilot/orchestrator/internal/model"
)

// Config bounds the advisor's per-issue invocation budget.
type Config struct {
	MaxAdvisorInvocations int
}

// Advisor drives a single advisor invocation over an agent.Backend.
type Advisor struct {
	backend  agent.Backend
	agentCfg *agent.Config
	cfg      Config
	log      *slog.Logger
}

// New constructs an Advisor.
func New(backend agent.Backend, agentCfg *agent.Config, cfg Config) *Advisor {
	return &Advisor{backend: backend, agentCfg: agentCfg, cfg: cfg, log: logging.WithComponent("advisor")}
}

type decisionPayload struct {
	Kind            model.AdvisorDecisionKind `json:"kind"`
	DroppedCriteria []string                  `json:"dropped_criteria"`
	Justification   string                    `json:"justification"`
	ApproachChanges string                    `json:"approach_changes"`
	SubIssues       []model.Issue             `json:"sub_issues"`
	DebtItems       []model.DebtItem          `json:"debt_items"`
}

// Decide invokes the advisor role for one failed/blocked issue,
// enforcing the last-invocation narrowing rule from spec §4.7: on the
// final permitted invocation, a RETRY_* decision is rejected and
// rewritten to ESCALATE_TO_REPLAN rather than trusted verbatim.
func (a *Advisor) Decide(ctx context.Context, issue *model.Issue, result *model.IssueResult, invocationNumber int) (model.AdvisorDecision, error) {
	invokeResult := agent.Invoke(ctx, a.backend, agent.RoleAdvisor,
		map[string]any{
			"issue":             issue,
			"issue_result":      result,
			"invocation_number": invocationNumber,
			"max_invocations":   a.cfg.MaxAdvisorInvocations,
		},
		a.agentCfg.ConstraintsFor(agent.RoleAdvisor, ""),
		agent.DecodeJSON[decisionPayload],
	)
	if !invokeResult.Ok() {
		return model.AdvisorDecision{}, invokeResult.Err
	}

	v := invokeResult.Value
	decision := model.AdvisorDecision{
		Kind:            v.Kind,
		DroppedCriteria: v.DroppedCriteria,
		Justification:   v.Justification,
		ApproachChanges: v.ApproachChanges,
		SubIssues:       v.SubIssues,
		DebtItems:       v.DebtItems,
	}

	isLastInvocation := invocationNumber >= a.cfg.MaxAdvisorInvocations
	if isLastInvocation && decision.IsRetry() {
		return model.AdvisorDecision{
			Kind:          model.AdvisorEscalateToReplan,
			Justification: "last permitted advisor invocation returned a retry decision; narrowed to escalate_to_replan per policy",
		}, nil
	}

	return decision, nil
}
