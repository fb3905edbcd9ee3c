// Package planning implements the Planning Pipeline (C4): a strictly
// ordered sequence turning (goal, repo) into a PlanResult — PRD,
// architecture with a bounded tech-lead review loop, sprint
// decomposition, and a parallel per-issue spec fan-out.
package planning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/logging"
	"github.com/forgepilot/orchestrator/internal/model"
)

// Config bounds the tech-lead review loop.
type Config struct {
	MaxReviewIterations int
}

// Pipeline drives the five-step planning sequence over a single agent
// Backend.
type Pipeline struct {
	backend  agent.Backend
	agentCfg *agent.Config
	cfg      Config
	log      *slog.Logger
}

// New constructs a Pipeline.
func New(backend agent.Backend, agentCfg *agent.Config, cfg Config) *Pipeline {
	return &Pipeline{backend: backend, agentCfg: agentCfg, cfg: cfg, log: logging.WithComponent("planning")}
}

// prdPayload is what the product-manager role returns.
type prdPayload struct {
	Goal               string   `json:"goal"`
	Requirements       []string `json:"requirements"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	ScopeSplits        []string `json:"scope_splits"`
}

type architecturePayload struct {
	Components        []string `json:"components"`
	Decisions         []string `json:"decisions"`
	FileChangeSummary string   `json:"file_change_summary"`
}

type reviewVerdictPayload struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

type issueDraft struct {
	Name               string              `json:"name"`
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	AcceptanceCriteria []string            `json:"acceptance_criteria"`
	DependsOn          []string            `json:"depends_on"`
	FilesToCreate      []string            `json:"files_to_create"`
	FilesToModify      []string            `json:"files_to_modify"`
	Guidance           model.IssueGuidance `json:"guidance"`
}

type sprintPlanPayload struct {
	Issues []issueDraft `json:"issues"`
}

type issueSpecPayload struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	FilesToCreate []string `json:"files_to_create"`
	FilesToModify []string `json:"files_to_modify"`
}

// Plan runs the full pipeline for goal against repoPath and returns a
// PlanResult with computed levels and file conflicts.
func (p *Pipeline) Plan(ctx context.Context, goal, repoPath string) (*model.PlanResult, error) {
	prd, err := p.productManager(ctx, goal, repoPath)
	if err != nil {
		return nil, fmt.Errorf("product manager: %w", err)
	}

	arch, review, err := p.architectureWithReview(ctx, prd, repoPath)
	if err != nil {
		return nil, fmt.Errorf("architecture review loop: %w", err)
	}

	draftIssues, err := p.sprintPlanner(ctx, prd, arch)
	if err != nil {
		return nil, fmt.Errorf("sprint planner: %w", err)
	}

	issues := assignSequenceNumbers(draftIssues)

	if err := p.writeIssueSpecs(ctx, issues, repoPath); err != nil {
		return nil, fmt.Errorf("issue writer fan-out: %w", err)
	}

	levels, err := model.ComputeLevels(issues, nil)
	if err != nil {
		return nil, fmt.Errorf("compute levels: %w", err)
	}

	issueMap := make(map[string]model.Issue, len(issues))
	for _, iss := range issues {
		issueMap[iss.Name] = iss
	}
	var conflicts []model.FileConflict
	for levelIdx, level := range levels {
		conflicts = append(conflicts, model.DetectFileConflicts(levelIdx, issueMap, level)...)
	}

	return &model.PlanResult{
		PRD:            *prd,
		Architecture:   *arch,
		TechLeadReview: *review,
		Issues:         issues,
		Levels:         levels,
		FileConflicts:  conflicts,
		Rationale:      fmt.Sprintf("plan for goal %q: %d issues across %d levels", goal, len(issues), len(levels)),
	}, nil
}

func (p *Pipeline) productManager(ctx context.Context, goal, repoPath string) (*model.PRD, error) {
	result := agent.Invoke(ctx, p.backend, agent.RoleProductManager,
		map[string]string{"goal": goal, "repo_path": repoPath},
		p.agentCfg.ConstraintsFor(agent.RoleProductManager, ""),
		agent.DecodeJSON[prdPayload],
	)
	if !result.Ok() {
		return nil, result.Err
	}
	v := result.Value
	return &model.PRD{Goal: v.Goal, Requirements: v.Requirements, AcceptanceCriteria: v.AcceptanceCriteria, ScopeSplits: v.ScopeSplits}, nil
}

// architectureWithReview runs the architect, then the bounded tech-lead
// review loop (spec §4.4 step 3): max_review_iterations+1 rounds, the
// last revision is accepted unconditionally on exhaustion.
func (p *Pipeline) architectureWithReview(ctx context.Context, prd *model.PRD, repoPath string) (*model.Architecture, *model.TechLeadReview, error) {
	arch, err := p.architect(ctx, prd, repoPath, "")
	if err != nil {
		return nil, nil, fmt.Errorf("architect: %w", err)
	}

	review := &model.TechLeadReview{}
	rounds := p.cfg.MaxReviewIterations + 1
	for round := 0; round < rounds; round++ {
		review.Rounds++
		verdict, err := p.techLead(ctx, prd, arch)
		if err != nil {
			return nil, nil, fmt.Errorf("tech lead round %d: %w", round, err)
		}
		if verdict.Feedback != "" {
			review.Feedback = append(review.Feedback, verdict.Feedback)
		}
		if verdict.Approved {
			review.Approved = true
			return arch, review, nil
		}
		if round == rounds-1 {
			review.ForcedAccept = true
			return arch, review, nil
		}
		arch, err = p.architect(ctx, prd, repoPath, verdict.Feedback)
		if err != nil {
			return nil, nil, fmt.Errorf("architect revision %d: %w", round, err)
		}
	}
	review.ForcedAccept = true
	return arch, review, nil
}

func (p *Pipeline) architect(ctx context.Context, prd *model.PRD, repoPath, feedback string) (*model.Architecture, error) {
	result := agent.Invoke(ctx, p.backend, agent.RoleArchitect,
		map[string]any{"prd": prd, "repo_path": repoPath, "prior_feedback": feedback},
		p.agentCfg.ConstraintsFor(agent.RoleArchitect, ""),
		agent.DecodeJSON[architecturePayload],
	)
	if !result.Ok() {
		return nil, result.Err
	}
	v := result.Value
	return &model.Architecture{Components: v.Components, Decisions: v.Decisions, FileChangeSummary: v.FileChangeSummary}, nil
}

func (p *Pipeline) techLead(ctx context.Context, prd *model.PRD, arch *model.Architecture) (*reviewVerdictPayload, error) {
	result := agent.Invoke(ctx, p.backend, agent.RoleTechLead,
		map[string]any{"prd": prd, "architecture": arch},
		p.agentCfg.ConstraintsFor(agent.RoleTechLead, ""),
		agent.DecodeJSON[reviewVerdictPayload],
	)
	if !result.Ok() {
		return nil, result.Err
	}
	v := result.Value
	return &v, nil
}

func (p *Pipeline) sprintPlanner(ctx context.Context, prd *model.PRD, arch *model.Architecture) ([]issueDraft, error) {
	result := agent.Invoke(ctx, p.backend, agent.RoleSprintPlanner,
		map[string]any{"prd": prd, "architecture": arch},
		p.agentCfg.ConstraintsFor(agent.RoleSprintPlanner, ""),
		agent.DecodeJSON[sprintPlanPayload],
	)
	if !result.Ok() {
		return nil, result.Err
	}
	return result.Value.Issues, nil
}

// writeIssueSpecs fans the issue-writer role out in parallel, one call
// per issue (spec §4.4 step 5 — the only parallel step in planning),
// merging each returned spec's file-touch lists back onto the issue.
func (p *Pipeline) writeIssueSpecs(ctx context.Context, issues []model.Issue, repoPath string) error {
	var wg sync.WaitGroup
	errs := make([]error, len(issues))
	for i := range issues {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result := agent.Invoke(ctx, p.backend, agent.RoleIssueWriter,
				map[string]any{"issue": issues[i], "repo_path": repoPath},
				p.agentCfg.ConstraintsFor(agent.RoleIssueWriter, ""),
				agent.DecodeJSON[issueSpecPayload],
			)
			if !result.Ok() {
				errs[i] = fmt.Errorf("issue %s: %w", issues[i].Name, result.Err)
				return
			}
			spec := result.Value
			if spec.Description != "" {
				issues[i].Description = spec.Description
			}
			issues[i].FilesToCreate = mergeUnique(issues[i].FilesToCreate, spec.FilesToCreate)
			issues[i].FilesToModify = mergeUnique(issues[i].FilesToModify, spec.FilesToModify)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// assignSequenceNumbers converts drafts into Issues with stable
// sequence numbers assigned in name order (drafts are sorted by Name
// first), used for branch naming and deterministic level ordering.
func assignSequenceNumbers(drafts []issueDraft) []model.Issue {
	sort.SliceStable(drafts, func(i, j int) bool { return drafts[i].Name < drafts[j].Name })
	issues := make([]model.Issue, len(drafts))
	for i, d := range drafts {
		issues[i] = model.Issue{
			Name:               d.Name,
			Title:              d.Title,
			Description:        d.Description,
			AcceptanceCriteria: d.AcceptanceCriteria,
			DependsOn:          d.DependsOn,
			FilesToCreate:      d.FilesToCreate,
			FilesToModify:      d.FilesToModify,
			Guidance:           d.Guidance,
			SequenceNumber:     i + 1,
		}
	}
	return issues
}
