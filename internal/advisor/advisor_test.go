package advisor_test

import (
	"context"
	"testing"

	"github.com/forgepilot/orchestrator/internal/advisor"
	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/agent/agenttest"
	"github.com/forgepilot/orchestrator/internal/model"
)

func TestDecide_PassesThroughRetryOnNonFinalInvocation(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleAdvisor, map[string]any{
		"kind":             "retry_modified",
		"dropped_criteria": []string{"supports dark mode"},
	})

	adv := advisor.New(mock, agent.DefaultConfig(), advisor.Config{MaxAdvisorInvocations: 2})
	issue := &model.Issue{Name: "add-thing"}
	result := &model.IssueResult{IssueName: "add-thing", Outcome: model.OutcomeFailedEscalated}

	decision, err := adv.Decide(context.Background(), issue, result, 1)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Kind != model.AdvisorRetryModified {
		t.Errorf("Kind = %q, want retry_modified", decision.Kind)
	}
}

func TestDecide_NarrowsRetryToEscalateOnLastInvocation(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleAdvisor, map[string]any{
		"kind": "retry_approach",
	})

	adv := advisor.New(mock, agent.DefaultConfig(), advisor.Config{MaxAdvisorInvocations: 2})
	issue := &model.Issue{Name: "add-thing"}
	result := &model.IssueResult{IssueName: "add-thing", Outcome: model.OutcomeFailedEscalated}

	decision, err := adv.Decide(context.Background(), issue, result, 2)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Kind != model.AdvisorEscalateToReplan {
		t.Errorf("Kind = %q, want escalate_to_replan (narrowed)", decision.Kind)
	}
}

func TestDecide_AcceptWithDebtAllowedOnLastInvocation(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleAdvisor, map[string]any{
		"kind": "accept_with_debt",
		"debt_items": []map[string]any{
			{"kind": "unmet_acceptance_criterion", "issue_name": "add-thing", "severity": "medium"},
		},
	})

	adv := advisor.New(mock, agent.DefaultConfig(), advisor.Config{MaxAdvisorInvocations: 1})
	issue := &model.Issue{Name: "add-thing"}
	result := &model.IssueResult{IssueName: "add-thing", Outcome: model.OutcomeFailedEscalated}

	decision, err := adv.Decide(context.Background(), issue, result, 1)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Kind != model.AdvisorAcceptWithDebt {
		t.Errorf("Kind = %q, want accept_with_debt", decision.Kind)
	}
	if len(decision.DebtItems) != 1 {
		t.Errorf("expected 1 debt item, got %d", len(decision.DebtItems))
	}
}
