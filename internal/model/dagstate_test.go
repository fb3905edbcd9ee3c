package model

import "testing"

func newTestState() *DAGState {
	s := NewDAGState("run-1", "/repo", "/artifacts")
	s.Issues["A"] = Issue{Name: "A", SequenceNumber: 1}
	s.Issues["B"] = Issue{Name: "B", SequenceNumber: 2, DependsOn: []string{"A"}}
	s.Issues["C"] = Issue{Name: "C", SequenceNumber: 3, DependsOn: []string{"A"}}
	if err := s.RecomputeLevels(); err != nil {
		panic(err)
	}
	return s
}

func TestDAGState_InvariantsOnFreshState(t *testing.T) {
	s := newTestState()
	if err := s.CheckInvariants(); err != nil {
		t.Fatalf("fresh state should satisfy invariants: %v", err)
	}
}

func TestDAGState_MarkCompletedAdvancesLevels(t *testing.T) {
	s := newTestState()
	if got := s.CurrentLevelIssues(); len(got) != 1 || got[0] != "A" {
		t.Fatalf("expected level 0 = [A], got %v", got)
	}

	s.MarkCompleted("A")
	s.CurrentLevel = 0 // recomputed levels hold only the remaining issues, starting again at 0
	if err := s.RecomputeLevels(); err != nil {
		t.Fatalf("RecomputeLevels: %v", err)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Fatalf("invariants after completing A: %v", err)
	}

	level := s.Levels[s.CurrentLevel]
	if len(level) != 2 {
		t.Fatalf("expected B and C in next level, got %v", level)
	}
}

func TestDAGState_VersionMonotone(t *testing.T) {
	s := newTestState()
	v0 := s.Version
	s.MarkCompleted("A")
	if s.Version <= v0 {
		t.Errorf("version did not advance: %d -> %d", v0, s.Version)
	}
}

func TestDAGState_EqualIgnoresVersion(t *testing.T) {
	a := newTestState()
	b := newTestState()
	a.bump()
	if !a.Equal(b) {
		t.Errorf("states should compare equal ignoring version")
	}
}

func TestDAGState_InvariantViolation_DuplicateBucket(t *testing.T) {
	s := newTestState()
	s.Completed = append(s.Completed, "A")
	s.FailedUnrecoverable = append(s.FailedUnrecoverable, "A")
	if err := s.CheckInvariants(); err == nil {
		t.Fatal("expected I1 violation for issue in two buckets")
	}
}

func TestDAGState_RemainingNamesExcludesCompletedAndSkipped(t *testing.T) {
	s := newTestState()
	s.MarkCompleted("A")
	s.MarkSkipped("C")
	remaining := s.RemainingNames()
	if len(remaining) != 1 || remaining[0] != "B" {
		t.Errorf("expected remaining = [B], got %v", remaining)
	}
}
