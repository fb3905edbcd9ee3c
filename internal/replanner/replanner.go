// Package replanner implements the Replanner (C8): the outermost of the
// orchestrator's three nested control loops. It is invoked when a
// level's gate sequence finds an escalated or unrecoverable failure,
// and may mutate the remaining dependency graph.
package replanner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/logging"
	"github.com/forgepilot/orchestrator/internal/model"
)

// Config bounds the replanner's per-run invocation budget.
type Config struct {
	MaxReplans int
}

// Replanner drives a single replan invocation over an agent.Backend.
type Replanner struct {
	backend  agent.Backend
	agentCfg *agent.Config
	cfg      Config
	log      *slog.Logger
}

// New constructs a Replanner.
func New(backend agent.Backend, agentCfg *agent.Config, cfg Config) *Replanner {
	return &Replanner{backend: backend, agentCfg: agentCfg, cfg: cfg, log: logging.WithComponent("replanner")}
}

type decisionPayload struct {
	Kind          model.ReplanDecisionKind `json:"kind"`
	RemoveSet     []string                 `json:"remove_set"`
	SkipSet       []string                 `json:"skip_set"`
	Updates       []model.IssueUpdate      `json:"updates"`
	AddIssues     []model.Issue            `json:"add_issues"`
	ReduceSkipSet []string                 `json:"reduce_skip_set"`
	Rationale     string                   `json:"rationale"`
}

// Decide invokes the replanner role with the full DAGState and its
// history of previously tried decisions (spec §4.8: "the replanner
// MUST see what was previously tried"). A hard invocation failure
// degrades to CONTINUE rather than propagating an error, per the
// crash-fallback rule.
func (r *Replanner) Decide(ctx context.Context, state *model.DAGState) model.ReplanDecision {
	result := agent.Invoke(ctx, r.backend, agent.RoleReplanner,
		map[string]any{
			"state":          state,
			"replan_history": state.ReplanHistory,
		},
		r.agentCfg.ConstraintsFor(agent.RoleReplanner, ""),
		agent.DecodeJSON[decisionPayload],
	)
	if !result.Ok() {
		r.log.Warn("replanner invocation failed, degrading to continue", "error", result.Err)
		return model.ReplanDecision{Kind: model.ReplanContinue, Rationale: "replanner invocation failed: " + result.Err.Error()}
	}

	v := result.Value
	return model.ReplanDecision{
		Kind:          v.Kind,
		RemoveSet:     v.RemoveSet,
		SkipSet:       v.SkipSet,
		Updates:       v.Updates,
		AddIssues:     v.AddIssues,
		ReduceSkipSet: v.ReduceSkipSet,
		Rationale:     v.Rationale,
	}
}

// Apply mutates state per decision's graph mutation rules (spec §4.8
// steps 1-5) and recomputes levels. On validation failure (cycle,
// orphaned dependency, or a remove_set naming a completed issue) the
// mutation is rejected and the issue set and the skipped and in-flight
// lists are restored; the caller should treat this as an effective
// CONTINUE. Apply appends a ReplanHistoryEntry for every recognized
// decision kind; an unrecognized kind returns an error and records nothing.
func (r *Replanner) Apply(state *model.DAGState, decision model.ReplanDecision) error {
	switch decision.Kind {
	case model.ReplanContinue:
		state.ReplanHistory = append(state.ReplanHistory, model.ReplanHistoryEntry{Decision: decision, Rationale: decision.Rationale, Accepted: true})
		return nil

	case model.ReplanAbort:
		state.ReplanHistory = append(state.ReplanHistory, model.ReplanHistoryEntry{Decision: decision, Rationale: decision.Rationale, Accepted: true})
		return nil

	case model.ReplanReduceScope:
		skipped := append([]string(nil), state.Skipped...)
		inFlight := append([]string(nil), state.InFlight...)
		for _, name := range decision.ReduceSkipSet {
			if _, ok := state.Issues[name]; ok {
				state.MarkSkipped(name)
			}
		}
		if err := state.RecomputeLevels(); err != nil {
			state.Skipped, state.InFlight = skipped, inFlight
			return r.reject(state, decision, err)
		}
		state.CurrentLevel = 0
		state.ReplanHistory = append(state.ReplanHistory, model.ReplanHistoryEntry{Decision: decision, Rationale: decision.Rationale, Accepted: true})
		return nil

	case model.ReplanModifyDAG:
		return r.applyModifyDAG(state, decision)

	default:
		return fmt.Errorf("replanner: unrecognized decision kind %q", decision.Kind)
	}
}

func (r *Replanner) applyModifyDAG(state *model.DAGState, decision model.ReplanDecision) error {
	snapshot := snapshotIssues(state.Issues)
	skipped := append([]string(nil), state.Skipped...)
	inFlight := append([]string(nil), state.InFlight...)

	// 1. Filter: remove issues in remove_set (must not be completed).
	for _, name := range decision.RemoveSet {
		if containsCompleted(state, name) {
			state.Issues = snapshot
			return r.reject(state, decision, fmt.Errorf("remove_set names completed issue %q", name))
		}
		delete(state.Issues, name)
	}

	// 2. Skip: mark skip_set issues as SKIPPED.
	for _, name := range decision.SkipSet {
		if _, ok := state.Issues[name]; ok {
			state.MarkSkipped(name)
		}
	}

	// 3. Update: apply field-level updates from update_map.
	for _, u := range decision.Updates {
		iss, ok := state.Issues[u.IssueName]
		if !ok {
			continue
		}
		if u.AcceptanceCriteria != nil {
			iss.AcceptanceCriteria = u.AcceptanceCriteria
		}
		if u.ApproachNotes != "" {
			iss.ApproachChanges = u.ApproachNotes
		}
		iss.DependsOn = applyDependencyEdits(iss.DependsOn, u.RemoveDependsOn, u.AddDependsOn)
		state.Issues[u.IssueName] = iss
	}

	// 4. Add: append new issues with fresh sequence numbers.
	nextSeq := highestSequence(state.Issues) + 1
	for _, newIssue := range decision.AddIssues {
		newIssue.SequenceNumber = nextSeq
		nextSeq++
		state.Issues[newIssue.Name] = newIssue
	}

	// 5. Validate: recompute levels; reject on cycle or orphan.
	if err := state.RecomputeLevels(); err != nil {
		state.Issues = snapshot
		state.Skipped, state.InFlight = skipped, inFlight
		return r.reject(state, decision, err)
	}
	state.CurrentLevel = 0
	state.ReplanHistory = append(state.ReplanHistory, model.ReplanHistoryEntry{Decision: decision, Rationale: decision.Rationale, Accepted: true})
	return nil
}

// reject records a rejected decision (validation failed) and falls
// back to CONTINUE per spec §4.8 step 5, leaving state's issue set as
// the caller already restored it.
func (r *Replanner) reject(state *model.DAGState, decision model.ReplanDecision, cause error) error {
	state.ReplanHistory = append(state.ReplanHistory, model.ReplanHistoryEntry{
		Decision: decision,
		Rationale: fmt.Sprintf("rejected, falling back to continue: %v", cause),
		Accepted:  false,
	})
	r.log.Warn("replan decision rejected, falling back to continue", "cause", cause)
	return nil
}

func snapshotIssues(issues map[string]model.Issue) map[string]model.Issue {
	cp := make(map[string]model.Issue, len(issues))
	for k, v := range issues {
		cp[k] = v
	}
	return cp
}

func containsCompleted(state *model.DAGState, name string) bool {
	for _, n := range state.Completed {
		if n == name {
			return true
		}
	}
	return false
}

func applyDependencyEdits(deps, remove, add []string) []string {
	removeSet := make(map[string]bool, len(remove))
	for _, d := range remove {
		removeSet[d] = true
	}
	out := make([]string, 0, len(deps)+len(add))
	for _, d := range deps {
		if !removeSet[d] {
			out = append(out, d)
		}
	}
	seen := make(map[string]bool, len(out))
	for _, d := range out {
		seen[d] = true
	}
	for _, d := range add {
		if !seen[d] {
			out = append(out, d)
			seen[d] = true
		}
	}
	return out
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
