package budget

import (
	"context"

	"github.com/forgepilot/orchestrator/internal/agent"
)

// TrackingBackend wraps an agent.Backend and records every invocation's
// reported usage into a Tracker, transparently to every caller of
// agent.Invoke — the scheduler, planning pipeline, and verify-fix loop
// never need to know cost tracking exists.
type TrackingBackend struct {
	backend agent.Backend
	tracker *Tracker
}

// NewTrackingBackend wraps backend so every Execute call's usage is
// recorded into tracker.
func NewTrackingBackend(backend agent.Backend, tracker *Tracker) *TrackingBackend {
	return &TrackingBackend{backend: backend, tracker: tracker}
}

func (b *TrackingBackend) Name() string { return b.backend.Name() }

func (b *TrackingBackend) Execute(ctx context.Context, req agent.Request) (*agent.Envelope, error) {
	env, err := b.backend.Execute(ctx, req)
	if err != nil || env == nil {
		return env, err
	}
	b.tracker.Record(Usage{
		Role:         string(req.Role),
		InputTokens:  env.Usage.InputTokens,
		OutputTokens: env.Usage.OutputTokens,
	})
	return env, err
}
