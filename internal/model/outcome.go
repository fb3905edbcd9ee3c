package model

// IssueOutcome is the sum type a coding-loop / advisor run resolves to
// (spec §3). Treat it as exhaustive. The switches over IssueOutcome in
// this module have no default branch, so a variant a switch does not
// list is silently ignored there.
type IssueOutcome string

const (
	OutcomeCompleted           IssueOutcome = "completed"
	OutcomeCompletedWithDebt   IssueOutcome = "completed_with_debt"
	OutcomeFailedNeedsSplit    IssueOutcome = "failed_needs_split"
	OutcomeFailedEscalated     IssueOutcome = "failed_escalated"
	OutcomeFailedUnrecoverable IssueOutcome = "failed_unrecoverable"
	OutcomeSkipped             IssueOutcome = "skipped"
)

// DebtKind classifies a DebtItem (spec §3).
type DebtKind string

const (
	DebtDroppedAcceptanceCriterion DebtKind = "dropped_acceptance_criterion"
	DebtMissingFunctionality       DebtKind = "missing_functionality"
	DebtUnmetAcceptanceCriterion   DebtKind = "unmet_acceptance_criterion"
	DebtOther                      DebtKind = "other"
)

// DebtSeverity is the declared severity of a DebtItem.
type DebtSeverity string

const (
	SeverityLow    DebtSeverity = "low"
	SeverityMedium DebtSeverity = "medium"
	SeverityHigh   DebtSeverity = "high"
)

// DebtItem is a typed record of incompleteness attached to an issue and
// surfaced in the final BuildResult (spec §3).
type DebtItem struct {
	Kind          DebtKind     `json:"kind"`
	Criterion     string       `json:"criterion,omitempty"`
	IssueName     string       `json:"issue_name"`
	Severity      DebtSeverity `json:"severity"`
	Justification string       `json:"justification,omitempty"`
}

// IssueResult is produced by the coding loop or advisor for one issue
// (spec §3).
type IssueResult struct {
	IssueName      string       `json:"issue_name"`
	Outcome        IssueOutcome `json:"outcome"`
	IterationsUsed int          `json:"iterations_used"`
	FinalBranch    string       `json:"final_branch,omitempty"`
	Debt           []DebtItem   `json:"debt,omitempty"`
	SubIssues      []Issue      `json:"sub_issues,omitempty"`
	Diagnostic     string       `json:"diagnostic,omitempty"`
}

// AdvisorDecisionKind tags the variant of an AdvisorDecision.
type AdvisorDecisionKind string

const (
	AdvisorRetryModified    AdvisorDecisionKind = "retry_modified"
	AdvisorRetryApproach    AdvisorDecisionKind = "retry_approach"
	AdvisorSplit            AdvisorDecisionKind = "split"
	AdvisorAcceptWithDebt   AdvisorDecisionKind = "accept_with_debt"
	AdvisorEscalateToReplan AdvisorDecisionKind = "escalate_to_replan"
)

// AdvisorDecision is the tagged variant the Issue Advisor (C7) returns.
// Only the fields relevant to Kind are populated; callers must switch on
// Kind before reading the payload fields.
type AdvisorDecision struct {
	Kind AdvisorDecisionKind `json:"kind"`

	// AdvisorRetryModified
	DroppedCriteria []string `json:"dropped_criteria,omitempty"`
	Justification   string   `json:"justification,omitempty"`

	// AdvisorRetryApproach
	ApproachChanges string `json:"approach_changes,omitempty"`

	// AdvisorSplit
	SubIssues []Issue `json:"sub_issues,omitempty"`

	// AdvisorAcceptWithDebt
	DebtItems []DebtItem `json:"debt_items,omitempty"`
}

// IsRetry reports whether this decision asks the scheduler to re-enter §4.6.
func (d AdvisorDecision) IsRetry() bool {
	return d.Kind == AdvisorRetryModified || d.Kind == AdvisorRetryApproach
}

// ReplanDecisionKind tags the variant of a ReplanDecision.
type ReplanDecisionKind string

const (
	ReplanContinue    ReplanDecisionKind = "continue"
	ReplanModifyDAG   ReplanDecisionKind = "modify_dag"
	ReplanReduceScope ReplanDecisionKind = "reduce_scope"
	ReplanAbort       ReplanDecisionKind = "abort"
)

// IssueUpdate is a field-level patch applied to a surviving issue by a
// MODIFY_DAG decision's update_map (spec §4.8 step 3).
type IssueUpdate struct {
	IssueName             string   `json:"issue_name"`
	AcceptanceCriteria    []string `json:"acceptance_criteria,omitempty"`
	RemoveDependsOn       []string `json:"remove_depends_on,omitempty"`
	AddDependsOn          []string `json:"add_depends_on,omitempty"`
	ApproachNotes         string   `json:"approach_notes,omitempty"`
}

// ReplanDecision is the tagged variant the Replanner (C8) returns.
type ReplanDecision struct {
	Kind ReplanDecisionKind `json:"kind"`

	// ReplanModifyDAG
	RemoveSet []string      `json:"remove_set,omitempty"`
	SkipSet   []string      `json:"skip_set,omitempty"`
	Updates   []IssueUpdate `json:"updates,omitempty"`
	AddIssues []Issue       `json:"add_issues,omitempty"`

	// ReplanReduceScope
	ReduceSkipSet []string `json:"reduce_skip_set,omitempty"`

	Rationale string `json:"rationale,omitempty"`
}

// ReplanHistoryEntry records one replanner invocation for feedback into
// the next invocation (spec §4.8: "the replanner MUST see what was
// previously tried").
type ReplanHistoryEntry struct {
	Decision  ReplanDecision `json:"decision"`
	Rationale string         `json:"rationale"`
	Accepted  bool           `json:"accepted"`
}

// MergeStatus is the per-branch outcome of a merge_level call (spec §4.2).
type MergeStatus string

const (
	MergeMerged          MergeStatus = "merged"
	MergeConflictResolved MergeStatus = "conflict_resolved"
	MergeFailed          MergeStatus = "failed"
)

// BranchMergeOutcome is one branch's result within a MergeResult.
type BranchMergeOutcome struct {
	IssueName  string      `json:"issue_name"`
	Branch     string      `json:"branch"`
	Status     MergeStatus `json:"status"`
	Strategy   string      `json:"strategy,omitempty"`
	CommitSHA  string      `json:"commit_sha,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// MergeResult is the outcome of merging one level's completed issues into
// the integration branch (spec §4.2).
type MergeResult struct {
	Outcomes              []BranchMergeOutcome `json:"outcomes"`
	NeedsIntegrationTests bool                 `json:"needs_integration_tests"`
}

// Merged returns the names of issues whose branch merged cleanly or via
// conflict resolution (i.e. not failed).
func (m MergeResult) Merged() []string {
	var names []string
	for _, o := range m.Outcomes {
		if o.Status != MergeFailed {
			names = append(names, o.IssueName)
		}
	}
	return names
}

// IntegrationTestResult is the per-level record of the integration-tester
// agent's verdict (spec §4.5 step 5).
type IntegrationTestResult struct {
	Level   int    `json:"level"`
	Passed  bool   `json:"passed"`
	Summary string `json:"summary,omitempty"`
}
