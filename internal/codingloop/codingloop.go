// Package codingloop implements the per-issue Coding Loop (C6): the
// innermost of the orchestrator's three nested control loops. It drives
// a coder agent inside an issue's worktree through a bounded number of
// iterations, gated by either a two-agent (coder, reviewer) or
// four-agent (coder, QA, reviewer, synthesizer) review path, and
// resolves to an IssueResult the scheduler classifies.
package codingloop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/logging"
	"github.com/forgepilot/orchestrator/internal/model"
)

// Config bounds one issue's run through the loop.
type Config struct {
	MaxCodingIterations int
}

// Loop drives a single issue through the coding loop.
type Loop struct {
	backend  agent.Backend
	agentCfg *agent.Config
	cfg      Config
	log      *slog.Logger
}

// New constructs a Loop.
func New(backend agent.Backend, agentCfg *agent.Config, cfg Config) *Loop {
	return &Loop{backend: backend, agentCfg: agentCfg, cfg: cfg, log: logging.WithComponent("codingloop")}
}

// verdictKind is the outcome a single iteration's review step resolves
// to, unified across the two- and four-agent paths.
type verdictKind string

const (
	verdictApprove verdictKind = "approve"
	verdictFix     verdictKind = "fix"
	verdictBlock   verdictKind = "block"
)

type coderPayload struct {
	Summary     string   `json:"summary"`
	FilesTouched []string `json:"files_touched"`
}

type adviceLitePayload struct {
	Diagnosis string `json:"diagnosis"`
}

type reviewerPayload struct {
	Verdict  verdictKind `json:"verdict"`
	Feedback string      `json:"feedback"`
	Reason   string      `json:"reason"`
}

type qaPayload struct {
	TestsPassed bool   `json:"tests_passed"`
	Summary     string `json:"summary"`
}

type synthesizerPayload struct {
	Verdict        verdictKind `json:"verdict"`
	Feedback       string      `json:"feedback"`
	Reason         string      `json:"reason"`
	FailureSignature string    `json:"failure_signature"`
}

// Run executes the bounded coding loop for issue inside worktreePath,
// returning the IssueResult the scheduler classifies at step 3 of §4.5.
// It never returns a Go error for an ordinary review outcome: iteration
// exhaustion and BLOCK both resolve to an IssueResult whose Outcome the
// caller (the scheduler, via the advisor) interprets — only a hard
// invocation failure from the coder itself is surfaced as an error.
func (l *Loop) Run(ctx context.Context, issue *model.Issue, worktreePath string) (*model.IssueResult, error) {
	var feedback string
	var lastSignature string
	var consecutiveFixes int

	for iteration := 1; iteration <= l.cfg.MaxCodingIterations; iteration++ {
		issue.IterationsUsed = iteration

		if _, err := l.coder(ctx, issue, worktreePath, feedback); err != nil {
			return nil, fmt.Errorf("coder iteration %d: %w", iteration, err)
		}
		l.adviceLite(ctx, issue, worktreePath)

		var verdict verdictKind
		var reviewFeedback, reason, signature string

		if issue.Guidance.NeedsDeeperQA {
			verdict, reviewFeedback, reason, signature = l.fourAgentReview(ctx, issue, worktreePath)
		} else {
			verdict, reviewFeedback, reason = l.twoAgentReview(ctx, issue, worktreePath)
		}

		switch verdict {
		case verdictApprove:
			return &model.IssueResult{
				IssueName:      issue.Name,
				Outcome:        model.OutcomeCompleted,
				IterationsUsed: iteration,
				FinalBranch:    issue.BranchName,
			}, nil
		case verdictBlock:
			return &model.IssueResult{
				IssueName:      issue.Name,
				Outcome:        model.OutcomeFailedEscalated,
				IterationsUsed: iteration,
				FinalBranch:    issue.BranchName,
				Diagnostic:     blockDiagnostic(reason),
			}, nil
		case verdictFix:
			if signature != "" && signature == lastSignature {
				consecutiveFixes++
			} else {
				consecutiveFixes = 1
			}
			lastSignature = signature
			if issue.Guidance.NeedsDeeperQA && consecutiveFixes >= 2 {
				return &model.IssueResult{
					IssueName:      issue.Name,
					Outcome:        model.OutcomeFailedEscalated,
					IterationsUsed: iteration,
					FinalBranch:    issue.BranchName,
					Diagnostic:     "synthesizer detected a stuck loop: repeated FIX with the same failure signature",
				}, nil
			}
			feedback = reviewFeedback
		}
	}

	return &model.IssueResult{
		IssueName:      issue.Name,
		Outcome:        model.OutcomeFailedEscalated,
		IterationsUsed: l.cfg.MaxCodingIterations,
		FinalBranch:    issue.BranchName,
		Diagnostic:     "exhausted max_coding_iterations without approval",
	}, nil
}

func blockDiagnostic(reason string) string {
	if reason == "" {
		return "reviewer issued BLOCK"
	}
	return "reviewer issued BLOCK: " + reason
}

func (l *Loop) coder(ctx context.Context, issue *model.Issue, worktreePath, feedback string) (*coderPayload, error) {
	result := agent.Invoke(ctx, l.backend, agent.RoleCoder,
		map[string]any{
			"issue":         issue,
			"worktree_path": worktreePath,
			"feedback":      feedback,
		},
		l.agentCfg.ConstraintsFor(agent.RoleCoder, ""),
		agent.DecodeJSON[coderPayload],
	)
	if !result.Ok() {
		return nil, result.Err
	}
	return &result.Value, nil
}

// adviceLite runs the optional post-coder advisor-lite step (spec
// §4.6): a short, non-deciding diagnosis surfaced purely for
// observability. Its outcome never influences the review verdict, so
// an invocation failure here is logged and otherwise ignored.
func (l *Loop) adviceLite(ctx context.Context, issue *model.Issue, worktreePath string) {
	result := agent.Invoke(ctx, l.backend, agent.RoleAdvisorLite,
		map[string]any{"issue": issue, "worktree_path": worktreePath},
		l.agentCfg.ConstraintsFor(agent.RoleAdvisorLite, ""),
		agent.DecodeJSON[adviceLitePayload],
	)
	if !result.Ok() {
		l.log.Debug("advisor-lite diagnosis unavailable", "issue", issue.Name, "error", result.Err)
		return
	}
	if result.Value.Diagnosis != "" {
		l.log.Debug("advisor-lite diagnosis", "issue", issue.Name, "diagnosis", result.Value.Diagnosis)
	}
}

// twoAgentReview is the default path (spec §4.6): coder → reviewer.
func (l *Loop) twoAgentReview(ctx context.Context, issue *model.Issue, worktreePath string) (verdictKind, string, string) {
	result := agent.Invoke(ctx, l.backend, agent.RoleReviewer,
		map[string]any{"issue": issue, "worktree_path": worktreePath},
		l.agentCfg.ConstraintsFor(agent.RoleReviewer, ""),
		agent.DecodeJSON[reviewerPayload],
	)
	if !result.Ok() {
		return verdictFix, result.Err.Error(), ""
	}
	v := result.Value
	return v.Verdict, v.Feedback, v.Reason
}

// fourAgentReview is the flagged path (spec §4.6): coder → (QA ∥
// reviewer) → synthesizer.
func (l *Loop) fourAgentReview(ctx context.Context, issue *model.Issue, worktreePath string) (verdictKind, string, string, string) {
	type qaResult struct {
		payload *qaPayload
		err     error
	}
	type reviewResult struct {
		payload *reviewerPayload
		err     error
	}

	qaCh := make(chan qaResult, 1)
	reviewCh := make(chan reviewResult, 1)

	go func() {
		result := agent.Invoke(ctx, l.backend, agent.RoleQA,
			map[string]any{"issue": issue, "worktree_path": worktreePath},
			l.agentCfg.ConstraintsFor(agent.RoleQA, ""),
			agent.DecodeJSON[qaPayload],
		)
		if !result.Ok() {
			qaCh <- qaResult{err: result.Err}
			return
		}
		qaCh <- qaResult{payload: &result.Value}
	}()

	go func() {
		result := agent.Invoke(ctx, l.backend, agent.RoleReviewer,
			map[string]any{"issue": issue, "worktree_path": worktreePath},
			l.agentCfg.ConstraintsFor(agent.RoleReviewer, ""),
			agent.DecodeJSON[reviewerPayload],
		)
		if !result.Ok() {
			reviewCh <- reviewResult{err: result.Err}
			return
		}
		reviewCh <- reviewResult{payload: &result.Value}
	}()

	qa, review := <-qaCh, <-reviewCh

	synthResult := agent.Invoke(ctx, l.backend, agent.RoleSynthesizer,
		map[string]any{
			"issue":         issue,
			"worktree_path": worktreePath,
			"qa":            qa.payload,
			"qa_error":      errString(qa.err),
			"review":        review.payload,
			"review_error":  errString(review.err),
		},
		l.agentCfg.ConstraintsFor(agent.RoleSynthesizer, ""),
		agent.DecodeJSON[synthesizerPayload],
	)
	if !synthResult.Ok() {
		return verdictFix, synthResult.Err.Error(), "", ""
	}
	v := synthResult.Value
	return v.Verdict, v.Feedback, v.Reason, v.FailureSignature
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
