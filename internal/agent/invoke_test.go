package agent_test

import (
	"context"
	"testing"

	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/agent/agenttest"
)

type reviewVerdict struct {
	Decision string `json:"decision"`
}

func TestInvoke_SuccessDecodesPayload(t *testing.T) {
	mock := agenttest.NewMock().Script(agent.RoleReviewer, reviewVerdict{Decision: "APPROVE"})

	result := agent.Invoke(context.Background(), mock, agent.RoleReviewer, nil, agent.Constraints{}, agent.DecodeJSON[reviewVerdict])
	if !result.Ok() {
		t.Fatalf("expected success, got error: %v", result.Err)
	}
	if result.Value.Decision != "APPROVE" {
		t.Errorf("decision = %q, want APPROVE", result.Value.Decision)
	}
}

func TestInvoke_NonSuccessStatusBecomesTypedError(t *testing.T) {
	mock := agenttest.NewMock().ScriptStatus(agent.RoleCoder, agent.StatusTimedOut, "ran out of time")

	result := agent.Invoke(context.Background(), mock, agent.RoleCoder, nil, agent.Constraints{}, agent.DecodeJSON[reviewVerdict])
	if result.Ok() {
		t.Fatal("expected failure result")
	}
	if result.Err.Kind != agent.ErrTimeout {
		t.Errorf("Kind = %v, want ErrTimeout", result.Err.Kind)
	}
}

func TestInvoke_SchemaMismatchIsTypedNotPanic(t *testing.T) {
	mock := agenttest.NewMock()
	mock.Responses[agent.RoleReviewer] = []agenttest.MockResponse{
		{Envelope: agent.Envelope{Status: agent.StatusSuccess, Payload: []byte(`not json`)}},
	}

	result := agent.Invoke(context.Background(), mock, agent.RoleReviewer, nil, agent.Constraints{}, agent.DecodeJSON[reviewVerdict])
	if result.Ok() {
		t.Fatal("expected schema mismatch error")
	}
	if result.Err.Kind != agent.ErrSchemaMismatch {
		t.Errorf("Kind = %v, want ErrSchemaMismatch", result.Err.Kind)
	}
}

func TestToolsForRole_ReadOnlyRolesExcludeWrite(t *testing.T) {
	tools := agent.ToolsForRole(agent.RoleReviewer)
	for _, tool := range tools {
		if tool == agent.ToolWrite || tool == agent.ToolEdit || tool == agent.ToolBash {
			t.Errorf("reviewer should not receive %v", tool)
		}
	}
}

func TestToolsForRole_CoderGetsFullBash(t *testing.T) {
	tools := agent.ToolsForRole(agent.RoleCoder)
	found := false
	for _, tool := range tools {
		if tool == agent.ToolBash {
			found = true
		}
	}
	if !found {
		t.Error("coder should receive BASH")
	}
}

func TestConfig_ResolveModel_ResolutionOrder(t *testing.T) {
	cfg := &agent.Config{Models: map[string]string{}}

	if got := cfg.ResolveModel("runtime-default", agent.RoleCoder); got != "runtime-default" {
		t.Errorf("with no overrides, got %q", got)
	}

	cfg.Models["default"] = "models-default"
	if got := cfg.ResolveModel("runtime-default", agent.RoleCoder); got != "models-default" {
		t.Errorf("models.default should win over runtime default, got %q", got)
	}

	cfg.Models[string(agent.RoleCoder)] = "coder-model"
	if got := cfg.ResolveModel("runtime-default", agent.RoleCoder); got != "coder-model" {
		t.Errorf("models.<role> should win over models.default, got %q", got)
	}
	if got := cfg.ResolveModel("runtime-default", agent.RoleReviewer); got != "models-default" {
		t.Errorf("reviewer should still fall back to models.default, got %q", got)
	}
}
