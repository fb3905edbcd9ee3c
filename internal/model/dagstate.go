package model

import (
	"fmt"
	"sort"
)

// GitTracking holds the integration-branch bookkeeping DAGState owns
// (spec §3).
type GitTracking struct {
	IntegrationBranch string `json:"integration_branch"`
	OriginalBranch    string `json:"original_branch"`
	InitialCommitSHA  string `json:"initial_commit_sha"`
	WorktreeRoot      string `json:"worktree_root"`
}

// DAGState is the single source of truth for a run (spec §3). All
// cross-issue mutation happens here, and only at gate points (spec §5
// ordering guarantee O2); per-issue tasks mutate only their own
// worktree.
type DAGState struct {
	RunID         string `json:"run_id"`
	RepoPath      string `json:"repo_path"`
	ArtifactsPath string `json:"artifacts_path"`
	PlanSummary   string `json:"plan_summary"`
	PRD           *PRD   `json:"prd,omitempty"`

	Issues map[string]Issue `json:"issues"`

	Levels       [][]string `json:"levels"`
	CurrentLevel int        `json:"current_level"`

	Completed         []string `json:"completed"`
	FailedRecoverable []string `json:"failed_recoverable"`
	FailedUnrecoverable []string `json:"failed_unrecoverable"`
	Skipped           []string `json:"skipped"`
	InFlight          []string `json:"in_flight"`

	ReplanCount   int                  `json:"replan_count"`
	ReplanHistory []ReplanHistoryEntry `json:"replan_history"`

	Git GitTracking `json:"git"`

	MergeResults           []MergeResult           `json:"merge_results"`
	IntegrationTestResults []IntegrationTestResult `json:"integration_test_results"`
	FileConflicts          []FileConflict          `json:"file_conflicts,omitempty"`

	AccumulatedDebt []DebtItem `json:"accumulated_debt"`

	AdaptationHistory []string `json:"adaptation_history"`

	Version int `json:"version"`

	Status     string `json:"status"` // "" while running; terminal values in buildresult.go
	VerifyFixCyclesUsed int `json:"verify_fix_cycles_used"`
}

// NewDAGState builds an empty, invariant-satisfying DAGState for a run.
func NewDAGState(runID, repoPath, artifactsPath string) *DAGState {
	return &DAGState{
		RunID:         runID,
		RepoPath:      repoPath,
		ArtifactsPath: artifactsPath,
		Issues:        map[string]Issue{},
		Levels:        nil,
		CurrentLevel:  0,
		Version:       1,
	}
}

// bump increments the monotone version counter (spec §3 I5, §5 O3). Call
// this exactly once per gate-sequence mutation before checkpointing.
func (s *DAGState) bump() { s.Version++ }

// RemainingNames returns issues that have not settled into a terminal
// status bucket: the set levels are computed over (spec §3 I2). A
// terminal failure (recoverable-via-split or not) takes an issue out of
// this set exactly like completion or skipping — it is never silently retried;
// only an explicit replanner AddIssues/Updates can reintroduce related
// work (spec §4.4 scenario 3: "A removed from current level").
func (s *DAGState) RemainingNames() []string {
	done := make(map[string]bool, len(s.Completed)+len(s.Skipped)+len(s.FailedRecoverable)+len(s.FailedUnrecoverable))
	for _, n := range s.Completed {
		done[n] = true
	}
	for _, n := range s.Skipped {
		done[n] = true
	}
	for _, n := range s.FailedRecoverable {
		done[n] = true
	}
	for _, n := range s.FailedUnrecoverable {
		done[n] = true
	}
	var remaining []string
	for name := range s.Issues {
		if !done[name] {
			remaining = append(remaining, name)
		}
	}
	sort.Strings(remaining)
	return remaining
}

// RecomputeLevels recomputes s.Levels over the remaining issue set,
// treating Completed issues as satisfied dependencies (spec §4.5 step 8,
// §4.8 step 5). It does not reset CurrentLevel; callers that trigger a
// replan mutation must reset it themselves per spec §4.5 step 8.
func (s *DAGState) RecomputeLevels() error {
	remaining := s.RemainingNames()
	issues := make([]Issue, 0, len(remaining))
	for _, name := range remaining {
		issues = append(issues, s.Issues[name])
	}
	satisfied := make(map[string]bool, len(s.Completed))
	for _, n := range s.Completed {
		satisfied[n] = true
	}
	levels, err := ComputeLevels(issues, satisfied)
	if err != nil {
		return err
	}
	s.Levels = levels
	s.bump()
	return nil
}

// CurrentLevelIssues returns the issue names in the level the scheduler
// is currently on, or nil if out of range (run complete).
func (s *DAGState) CurrentLevelIssues() []string {
	if s.CurrentLevel < 0 || s.CurrentLevel >= len(s.Levels) {
		return nil
	}
	return s.Levels[s.CurrentLevel]
}

// MarkCompleted moves an issue into Completed (and out of InFlight),
// bumping the version. Idempotent.
func (s *DAGState) MarkCompleted(name string) {
	s.InFlight = removeName(s.InFlight, name)
	if !containsName(s.Completed, name) {
		s.Completed = append(s.Completed, name)
	}
	s.bump()
}

// MarkFailedRecoverable records an issue that failed but whose dependents
// may still proceed once downstream decisions are made (debt/split path).
func (s *DAGState) MarkFailedRecoverable(name string) {
	s.InFlight = removeName(s.InFlight, name)
	if !containsName(s.FailedRecoverable, name) {
		s.FailedRecoverable = append(s.FailedRecoverable, name)
	}
	s.bump()
}

// MarkFailedUnrecoverable records a terminal failure for an issue.
func (s *DAGState) MarkFailedUnrecoverable(name string) {
	s.InFlight = removeName(s.InFlight, name)
	s.FailedRecoverable = removeName(s.FailedRecoverable, name)
	if !containsName(s.FailedUnrecoverable, name) {
		s.FailedUnrecoverable = append(s.FailedUnrecoverable, name)
	}
	s.bump()
}

// MarkSkipped records an issue excluded from execution (replan REDUCE_SCOPE
// or MODIFY_DAG skip_set).
func (s *DAGState) MarkSkipped(name string) {
	s.InFlight = removeName(s.InFlight, name)
	if !containsName(s.Skipped, name) {
		s.Skipped = append(s.Skipped, name)
	}
	s.bump()
}

// SetInFlight replaces the in-flight set, used when a level begins
// execution.
func (s *DAGState) SetInFlight(names []string) {
	cp := make([]string, len(names))
	copy(cp, names)
	s.InFlight = cp
	s.bump()
}

// AddDebt appends a DebtItem to the accumulated register.
func (s *DAGState) AddDebt(items ...DebtItem) {
	s.AccumulatedDebt = append(s.AccumulatedDebt, items...)
	s.bump()
}

func removeName(list []string, name string) []string {
	out := list[:0:0]
	for _, n := range list {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func containsName(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// CheckInvariants validates I1-I4 from spec §3 (I5 is a property of the
// checkpoint store, validated there). It returns the first violation
// found, or nil.
func (s *DAGState) CheckInvariants() error {
	// I1: every issue name appears in exactly one of the disjoint status
	// lists, or is in_flight.
	buckets := map[string]int{}
	tally := func(list []string, label string) error {
		for _, n := range list {
			if _, ok := s.Issues[n]; !ok {
				return fmt.Errorf("I1: %s references unknown issue %q", label, n)
			}
			buckets[n]++
		}
		return nil
	}
	if err := tally(s.Completed, "completed"); err != nil {
		return err
	}
	if err := tally(s.FailedRecoverable, "failed_recoverable"); err != nil {
		return err
	}
	if err := tally(s.FailedUnrecoverable, "failed_unrecoverable"); err != nil {
		return err
	}
	if err := tally(s.Skipped, "skipped"); err != nil {
		return err
	}
	if err := tally(s.InFlight, "in_flight"); err != nil {
		return err
	}
	for name, count := range buckets {
		if count > 1 {
			return fmt.Errorf("I1: issue %q appears in more than one status bucket", name)
		}
	}

	// I2: union of level contents equals the set of not-completed,
	// not-skipped issues at the time levels were recomputed. We check a
	// weaker, always-valid form: every name in every level is a known
	// issue that is neither completed nor skipped.
	done := map[string]bool{}
	for _, n := range s.Completed {
		done[n] = true
	}
	for _, n := range s.Skipped {
		done[n] = true
	}
	seenInLevels := map[string]bool{}
	for li, level := range s.Levels {
		for _, name := range level {
			if _, ok := s.Issues[name]; !ok {
				return fmt.Errorf("I2: level %d references unknown issue %q", li, name)
			}
			if done[name] {
				return fmt.Errorf("I2: level %d contains completed/skipped issue %q", li, name)
			}
			if seenInLevels[name] {
				return fmt.Errorf("I2: issue %q appears in more than one level", name)
			}
			seenInLevels[name] = true
		}
	}

	// I3/I4: depends_on is acyclic over remaining issues, and no issue in
	// level k depends on an issue in level >= k.
	levelOf := map[string]int{}
	for li, level := range s.Levels {
		for _, name := range level {
			levelOf[name] = li
		}
	}
	for li, level := range s.Levels {
		for _, name := range level {
			iss := s.Issues[name]
			for _, dep := range iss.DependsOn {
				if done[dep] {
					continue
				}
				depLevel, ok := levelOf[dep]
				if !ok {
					continue // dependency outside the current remaining set (e.g. skipped)
				}
				if depLevel >= li {
					return fmt.Errorf("I4: issue %q in level %d depends on %q in level %d", name, li, dep, depLevel)
				}
			}
		}
	}

	return nil
}

// Equal reports whether two DAGStates are equivalent for the round-trip
// property test in spec §8, ignoring the monotonic Version counter.
func (s *DAGState) Equal(other *DAGState) bool {
	if other == nil {
		return false
	}
	a, b := *s, *other
	a.Version, b.Version = 0, 0
	return fmt.Sprintf("%+v", a) == fmt.Sprintf("%+v", b)
}
