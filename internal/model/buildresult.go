package model

// BuildStatus is the terminal status of a build (spec §6, §7).
type BuildStatus string

const (
	StatusSuccess   BuildStatus = "SUCCESS"
	StatusPartial   BuildStatus = "PARTIAL"
	StatusFailed    BuildStatus = "FAILED"
	StatusCancelled BuildStatus = "CANCELLED"
	StatusAborted   BuildStatus = "ABORTED"
)

// PhaseSummary is a per-level breakdown included in a BuildResult so
// user-visible failure is "always a BuildResult with a status, per-phase
// breakdown, and the accumulated debt register — never a raw stack
// trace" (spec §7).
type PhaseSummary struct {
	Level     int      `json:"level"`
	Issues    []string `json:"issues"`
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`
}

// BuildResult is the terminal result of build/resume_build (spec §6).
type BuildResult struct {
	Status        BuildStatus    `json:"status"`
	Diagnostic    string         `json:"diagnostic,omitempty"`
	Phases        []PhaseSummary `json:"phases"`
	AccumulatedDebt []DebtItem   `json:"accumulated_debt"`
	State         *DAGState      `json:"state,omitempty"`
	EstimatedCostUSD float64     `json:"estimated_cost_usd,omitempty"`
}
