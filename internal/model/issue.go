// Package model defines the data structures shared by every component of
// the orchestrator: the plan produced by the planning pipeline, the issues
// and levels the scheduler drives through the coding loop, and the
// decisions the advisor and replanner hand back to it.
package model

import "fmt"

// ScopeSize is the sprint planner's rough sizing for an issue.
type ScopeSize string

const (
	ScopeTrivial ScopeSize = "trivial"
	ScopeSmall   ScopeSize = "small"
	ScopeMedium  ScopeSize = "medium"
	ScopeLarge   ScopeSize = "large"
)

// IssueGuidance is the risk-routing record produced by the sprint planner
// for a single issue (spec §3).
type IssueGuidance struct {
	NeedsNewTests   bool      `json:"needs_new_tests" yaml:"needs_new_tests"`
	EstimatedScope  ScopeSize `json:"estimated_scope" yaml:"estimated_scope"`
	TouchesInterfaces bool    `json:"touches_interfaces" yaml:"touches_interfaces"`
	NeedsDeeperQA   bool      `json:"needs_deeper_qa" yaml:"needs_deeper_qa"`
	TestingGuidance string    `json:"testing_guidance,omitempty" yaml:"testing_guidance,omitempty"`
	ReviewFocus     string    `json:"review_focus,omitempty" yaml:"review_focus,omitempty"`
	RiskRationale   string    `json:"risk_rationale,omitempty" yaml:"risk_rationale,omitempty"`
}

// Issue is a unit of work (spec §3). Issues reference each other by Name,
// never by pointer, so DAGState can own a flat map and serialize trivially.
type Issue struct {
	Name              string        `json:"name" yaml:"name"`
	Title             string        `json:"title" yaml:"title"`
	Description       string        `json:"description" yaml:"description"`
	AcceptanceCriteria []string     `json:"acceptance_criteria" yaml:"acceptance_criteria"`
	DependsOn         []string      `json:"depends_on" yaml:"depends_on"`
	FilesToCreate     []string      `json:"files_to_create,omitempty" yaml:"files_to_create,omitempty"`
	FilesToModify     []string      `json:"files_to_modify,omitempty" yaml:"files_to_modify,omitempty"`
	Guidance          IssueGuidance `json:"guidance" yaml:"guidance"`
	SequenceNumber    int           `json:"sequence_number" yaml:"sequence_number"`

	// Mutable runtime fields. Written only by the scheduler, advisor, and
	// replanner (never by a per-issue task itself).
	WorktreePath    string   `json:"worktree_path,omitempty" yaml:"worktree_path,omitempty"`
	BranchName      string   `json:"branch_name,omitempty" yaml:"branch_name,omitempty"`
	DebtNotes       []string `json:"debt_notes,omitempty" yaml:"debt_notes,omitempty"`
	FailureNotes    []string `json:"failure_notes,omitempty" yaml:"failure_notes,omitempty"`
	RetryContext    string   `json:"retry_context,omitempty" yaml:"retry_context,omitempty"`
	PreviousError   string   `json:"previous_error,omitempty" yaml:"previous_error,omitempty"`
	ApproachChanges string   `json:"approach_changes,omitempty" yaml:"approach_changes,omitempty"`

	IterationsUsed         int `json:"iterations_used" yaml:"iterations_used"`
	AdvisorInvocationsUsed int `json:"advisor_invocations_used" yaml:"advisor_invocations_used"`
}

// BranchSlug renders the branch name used by make_worktree: issue/{seq:02d}-{slug(name)}.
func (i *Issue) BranchSlug() string {
	return fmt.Sprintf("issue/%02d-%s", i.SequenceNumber, slugify(i.Name))
}

// DroppedCriteria removes the named acceptance criteria from the issue,
// returning the removed criteria in original order. Used by RETRY_MODIFIED.
func (i *Issue) DroppedCriteria(criteria []string) []string {
	drop := make(map[string]bool, len(criteria))
	for _, c := range criteria {
		drop[c] = true
	}
	kept := i.AcceptanceCriteria[:0:0]
	var dropped []string
	for _, c := range i.AcceptanceCriteria {
		if drop[c] {
			dropped = append(dropped, c)
			continue
		}
		kept = append(kept, c)
	}
	i.AcceptanceCriteria = kept
	return dropped
}

func slugify(name string) string {
	out := make([]rune, 0, len(name))
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
			lastDash = false
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'a')
			lastDash = false
		default:
			if !lastDash && len(out) > 0 {
				out = append(out, '-')
				lastDash = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}
