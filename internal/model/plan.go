package model

// PRD is the product manager's output (spec §4.4 step 1).
type PRD struct {
	Goal               string   `json:"goal" yaml:"goal"`
	Requirements       []string `json:"requirements" yaml:"requirements"`
	AcceptanceCriteria []string `json:"acceptance_criteria" yaml:"acceptance_criteria"`
	ScopeSplits        []string `json:"scope_splits,omitempty" yaml:"scope_splits,omitempty"`
}

// Architecture is the architect's output (spec §4.4 step 2).
type Architecture struct {
	Components        []string `json:"components" yaml:"components"`
	Decisions         []string `json:"decisions" yaml:"decisions"`
	FileChangeSummary string   `json:"file_change_summary,omitempty" yaml:"file_change_summary,omitempty"`
}

// TechLeadReview is the tech-lead review loop's terminal verdict
// (spec §4.4 step 3). Approved is false only if the bounded loop was
// exhausted without approval and the last revision was accepted anyway
// ("never block").
type TechLeadReview struct {
	Approved     bool     `json:"approved"`
	Rounds       int      `json:"rounds"`
	Feedback     []string `json:"feedback,omitempty"`
	ForcedAccept bool     `json:"forced_accept"`
}

// FileConflict is an advisory same-level conflict detected by pairwise
// intersection of (files_to_create ∪ files_to_modify) (spec §4.4).
type FileConflict struct {
	Level int      `json:"level"`
	IssueA string  `json:"issue_a"`
	IssueB string  `json:"issue_b"`
	Files []string `json:"files"`
}

// PlanResult is the output of the Planning Pipeline (C4) (spec §3).
type PlanResult struct {
	PRD            PRD            `json:"prd"`
	Architecture   Architecture   `json:"architecture"`
	TechLeadReview TechLeadReview `json:"tech_lead_review"`
	Issues         []Issue        `json:"issues"`
	Levels         [][]string     `json:"levels"`
	FileConflicts  []FileConflict `json:"file_conflicts,omitempty"`
	Rationale      string         `json:"rationale,omitempty"`
}

// IssueMap indexes PlanResult.Issues by name.
func (p *PlanResult) IssueMap() map[string]Issue {
	m := make(map[string]Issue, len(p.Issues))
	for _, iss := range p.Issues {
		m[iss.Name] = iss
	}
	return m
}
