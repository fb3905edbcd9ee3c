package planning_test

import (
	"context"
	"testing"

	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/agent/agenttest"
	"github.com/forgepilot/orchestrator/internal/planning"
)

func scriptHappyPath(mock *agenttest.Mock) {
	mock.Script(agent.RoleProductManager, map[string]any{
		"goal":                "ship a widget",
		"requirements":        []string{"widget renders"},
		"acceptance_criteria": []string{"widget is visible"},
	})
	mock.Script(agent.RoleArchitect, map[string]any{
		"components": []string{"widget package"},
		"decisions":  []string{"use a single package"},
	})
	mock.Script(agent.RoleTechLead, map[string]any{
		"approved": true,
		"feedback": "looks good",
	})
	mock.Script(agent.RoleSprintPlanner, map[string]any{
		"issues": []map[string]any{
			{"name": "add-widget", "title": "Add widget", "depends_on": []string{}},
			{"name": "wire-widget", "title": "Wire widget", "depends_on": []string{"add-widget"}},
		},
	})
	mock.Script(agent.RoleIssueWriter, map[string]any{
		"description":     "implement it",
		"files_to_create": []string{"widget.go"},
	})
}

func TestPlan_ProducesLeveledIssuesFromScriptedRoles(t *testing.T) {
	mock := agenttest.NewMock()
	scriptHappyPath(mock)

	p := planning.New(mock, agent.DefaultConfig(), planning.Config{MaxReviewIterations: 1})
	result, err := p.Plan(context.Background(), "ship a widget", "/repo")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if !result.TechLeadReview.Approved {
		t.Errorf("expected tech lead approval")
	}
	if len(result.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(result.Issues))
	}
	if len(result.Levels) != 2 {
		t.Fatalf("expected 2 levels (dependency chain), got %d: %v", len(result.Levels), result.Levels)
	}
	if result.Levels[0][0] != "add-widget" || result.Levels[1][0] != "wire-widget" {
		t.Errorf("unexpected level ordering: %v", result.Levels)
	}
	for _, iss := range result.Issues {
		if len(iss.FilesToCreate) == 0 || iss.FilesToCreate[0] != "widget.go" {
			t.Errorf("issue %s did not receive issue-writer output: %+v", iss.Name, iss)
		}
	}
}

func TestPlan_TechLeadReviewLoopAcceptsLastRevisionOnExhaustion(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleProductManager, map[string]any{"goal": "x"})
	mock.Script(agent.RoleArchitect, map[string]any{"components": []string{"a"}})
	mock.Script(agent.RoleTechLead, map[string]any{"approved": false, "feedback": "needs work"})
	mock.Script(agent.RoleSprintPlanner, map[string]any{"issues": []map[string]any{{"name": "only-issue"}}})
	mock.Script(agent.RoleIssueWriter, map[string]any{"description": "d"})

	p := planning.New(mock, agent.DefaultConfig(), planning.Config{MaxReviewIterations: 1})
	result, err := p.Plan(context.Background(), "x", "/repo")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if result.TechLeadReview.Approved {
		t.Errorf("expected review not approved after rejecting every round")
	}
	if !result.TechLeadReview.ForcedAccept {
		t.Errorf("expected ForcedAccept on exhaustion, review: %+v", result.TechLeadReview)
	}
	if result.TechLeadReview.Rounds != 2 {
		t.Errorf("Rounds = %d, want 2 (MaxReviewIterations+1)", result.TechLeadReview.Rounds)
	}
}

func TestPlan_DetectsFileConflictsWithinLevel(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleProductManager, map[string]any{"goal": "x"})
	mock.Script(agent.RoleArchitect, map[string]any{"components": []string{"a"}})
	mock.Script(agent.RoleTechLead, map[string]any{"approved": true})
	mock.Script(agent.RoleSprintPlanner, map[string]any{
		"issues": []map[string]any{
			{"name": "issue-a", "files_to_modify": []string{"shared.go"}},
			{"name": "issue-b", "files_to_modify": []string{"shared.go"}},
		},
	})
	mock.Script(agent.RoleIssueWriter, map[string]any{"description": "d"})

	p := planning.New(mock, agent.DefaultConfig(), planning.Config{MaxReviewIterations: 0})
	result, err := p.Plan(context.Background(), "x", "/repo")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(result.FileConflicts) != 1 {
		t.Fatalf("expected 1 file conflict, got %d: %+v", len(result.FileConflicts), result.FileConflicts)
	}
	if result.FileConflicts[0].Files[0] != "shared.go" {
		t.Errorf("unexpected conflict: %+v", result.FileConflicts[0])
	}
}
