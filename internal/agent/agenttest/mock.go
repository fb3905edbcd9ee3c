// Package agenttest provides a scriptable agent.Backend for unit tests
// of components built on the Agent Invocation Layer.
package agenttest

import (
	"context"
	"encoding/json"

	"github.com/forgepilot/orchestrator/internal/agent"
)

// Mock is a Backend whose responses are scripted per role by the test.
// Calls beyond the scripted queue for a role repeat the last response,
// so tests that loop a fixed number of iterations don't need to pad the
// queue.
type Mock struct {
	Responses map[agent.Role][]MockResponse
	calls     map[agent.Role]int
	Requests  []agent.Request
}

// MockResponse is one scripted envelope, or a transport error if Err is
// set (Envelope is ignored when Err != nil).
type MockResponse struct {
	Envelope agent.Envelope
	Err      error
}

// NewMock constructs an empty scriptable backend.
func NewMock() *Mock {
	return &Mock{Responses: map[agent.Role][]MockResponse{}, calls: map[agent.Role]int{}}
}

// Script appends a scripted SUCCESS response with the given payload
// (marshaled to JSON) for role.
func (m *Mock) Script(role agent.Role, payload any) *Mock {
	body, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	m.Responses[role] = append(m.Responses[role], MockResponse{
		Envelope: agent.Envelope{Status: agent.StatusSuccess, Payload: body},
	})
	return m
}

// ScriptStatus appends a scripted non-success response for role.
func (m *Mock) ScriptStatus(role agent.Role, status agent.Status, message string) *Mock {
	m.Responses[role] = append(m.Responses[role], MockResponse{
		Envelope: agent.Envelope{Status: status, Message: message},
	})
	return m
}

func (m *Mock) Name() string { return "mock" }

// Execute returns the next scripted response for req.Role.
func (m *Mock) Execute(_ context.Context, req agent.Request) (*agent.Envelope, error) {
	m.Requests = append(m.Requests, req)
	queue := m.Responses[req.Role]
	if len(queue) == 0 {
		return &agent.Envelope{Status: agent.StatusFailed, Message: "no scripted response for role " + string(req.Role)}, nil
	}
	idx := m.calls[req.Role]
	if idx >= len(queue) {
		idx = len(queue) - 1
	}
	m.calls[req.Role]++
	resp := queue[idx]
	if resp.Err != nil {
		return nil, resp.Err
	}
	env := resp.Envelope
	return &env, nil
}
