package codingloop_test

import (
	"context"
	"testing"

	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/agent/agenttest"
	"github.com/forgepilot/orchestrator/internal/codingloop"
	"github.com/forgepilot/orchestrator/internal/model"
)

func TestRun_TwoAgentPathApprovesOnFirstIteration(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleCoder, map[string]any{"summary": "did it"})
	mock.Script(agent.RoleReviewer, map[string]any{"verdict": "approve"})

	loop := codingloop.New(mock, agent.DefaultConfig(), codingloop.Config{MaxCodingIterations: 5})
	issue := &model.Issue{Name: "add-thing", SequenceNumber: 1}
	result, err := loop.Run(context.Background(), issue, "/work/add-thing")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != model.OutcomeCompleted {
		t.Errorf("Outcome = %q, want completed", result.Outcome)
	}
	if result.IterationsUsed != 1 {
		t.Errorf("IterationsUsed = %d, want 1", result.IterationsUsed)
	}
}

func TestRun_TwoAgentPathFixThenApprove(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleCoder, map[string]any{"summary": "attempt"})
	mock.Script(agent.RoleReviewer, map[string]any{"verdict": "fix", "feedback": "add a test"})
	mock.Script(agent.RoleReviewer, map[string]any{"verdict": "approve"})

	loop := codingloop.New(mock, agent.DefaultConfig(), codingloop.Config{MaxCodingIterations: 5})
	issue := &model.Issue{Name: "add-thing", SequenceNumber: 1}
	result, err := loop.Run(context.Background(), issue, "/work/add-thing")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != model.OutcomeCompleted {
		t.Errorf("Outcome = %q, want completed", result.Outcome)
	}
	if result.IterationsUsed != 2 {
		t.Errorf("IterationsUsed = %d, want 2", result.IterationsUsed)
	}
}

func TestRun_ReviewerBlockEscalatesImmediately(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleCoder, map[string]any{"summary": "attempt"})
	mock.Script(agent.RoleReviewer, map[string]any{"verdict": "block", "reason": "introduces a SQL injection"})

	loop := codingloop.New(mock, agent.DefaultConfig(), codingloop.Config{MaxCodingIterations: 5})
	issue := &model.Issue{Name: "add-thing", SequenceNumber: 1}
	result, err := loop.Run(context.Background(), issue, "/work/add-thing")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != model.OutcomeFailedEscalated {
		t.Errorf("Outcome = %q, want failed_escalated", result.Outcome)
	}
	if result.IterationsUsed != 1 {
		t.Errorf("IterationsUsed = %d, want 1", result.IterationsUsed)
	}
}

func TestRun_ExhaustsIterationsWithoutApproval(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleCoder, map[string]any{"summary": "attempt"})
	mock.Script(agent.RoleReviewer, map[string]any{"verdict": "fix", "feedback": "keep trying"})

	loop := codingloop.New(mock, agent.DefaultConfig(), codingloop.Config{MaxCodingIterations: 3})
	issue := &model.Issue{Name: "add-thing", SequenceNumber: 1}
	result, err := loop.Run(context.Background(), issue, "/work/add-thing")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != model.OutcomeFailedEscalated {
		t.Errorf("Outcome = %q, want failed_escalated", result.Outcome)
	}
	if result.IterationsUsed != 3 {
		t.Errorf("IterationsUsed = %d, want 3", result.IterationsUsed)
	}
}

func TestRun_FourAgentPathDetectsStuckLoop(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Script(agent.RoleCoder, map[string]any{"summary": "attempt"})
	mock.Script(agent.RoleQA, map[string]any{"tests_passed": false, "summary": "still failing"})
	mock.Script(agent.RoleReviewer, map[string]any{"verdict": "fix", "feedback": "nit"})
	mock.Script(agent.RoleSynthesizer, map[string]any{
		"verdict":            "fix",
		"feedback":           "same failure as last time",
		"failure_signature":  "test_x_fails",
	})

	loop := codingloop.New(mock, agent.DefaultConfig(), codingloop.Config{MaxCodingIterations: 5})
	issue := &model.Issue{Name: "add-thing", SequenceNumber: 1, Guidance: model.IssueGuidance{NeedsDeeperQA: true}}
	result, err := loop.Run(context.Background(), issue, "/work/add-thing")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != model.OutcomeFailedEscalated {
		t.Errorf("Outcome = %q, want failed_escalated", result.Outcome)
	}
	if result.IterationsUsed != 2 {
		t.Errorf("IterationsUsed = %d, want 2 (stuck detected on 2nd repeated signature)", result.IterationsUsed)
	}
}
