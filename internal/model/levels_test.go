package model

import (
	"errors"
	"reflect"
	"testing"
)

func issue(name string, seq int, deps ...string) Issue {
	return Issue{Name: name, SequenceNumber: seq, DependsOn: deps}
}

func TestComputeLevels_Independent(t *testing.T) {
	issues := []Issue{
		issue("A", 1),
		issue("B", 2),
		issue("C", 3),
	}

	levels, err := ComputeLevels(issues, nil)
	if err != nil {
		t.Fatalf("ComputeLevels: %v", err)
	}
	want := [][]string{{"A", "B", "C"}}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("levels = %v, want %v", levels, want)
	}
}

func TestComputeLevels_Chain(t *testing.T) {
	issues := []Issue{
		issue("root", 1),
		issue("B", 2, "root"),
		issue("C", 3, "root"),
	}

	levels, err := ComputeLevels(issues, nil)
	if err != nil {
		t.Fatalf("ComputeLevels: %v", err)
	}
	want := [][]string{{"root"}, {"B", "C"}}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("levels = %v, want %v", levels, want)
	}
}

func TestComputeLevels_StableOrderingBySequence(t *testing.T) {
	issues := []Issue{
		issue("C", 3),
		issue("A", 1),
		issue("B", 2),
	}
	levels, err := ComputeLevels(issues, nil)
	if err != nil {
		t.Fatalf("ComputeLevels: %v", err)
	}
	want := [][]string{{"A", "B", "C"}}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("levels = %v, want %v", levels, want)
	}

	// Recomputing over an unchanged graph must yield the identical
	// partition (spec §8 round-trip property).
	levels2, err := ComputeLevels(issues, nil)
	if err != nil {
		t.Fatalf("ComputeLevels (second run): %v", err)
	}
	if !reflect.DeepEqual(levels, levels2) {
		t.Errorf("recompute not stable: %v vs %v", levels, levels2)
	}
}

func TestComputeLevels_Cycle(t *testing.T) {
	issues := []Issue{
		issue("A", 1, "B"),
		issue("B", 2, "A"),
	}
	_, err := ComputeLevels(issues, nil)
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
}

func TestComputeLevels_SatisfiedTreatsCompletedAsResolved(t *testing.T) {
	issues := []Issue{
		issue("B", 2, "A"), // A is not in the issue list: already completed
	}
	levels, err := ComputeLevels(issues, map[string]bool{"A": true})
	if err != nil {
		t.Fatalf("ComputeLevels: %v", err)
	}
	want := [][]string{{"B"}}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("levels = %v, want %v", levels, want)
	}
}

func TestComputeLevels_OrphanDependency(t *testing.T) {
	issues := []Issue{
		issue("B", 1, "ghost"),
	}
	_, err := ComputeLevels(issues, nil)
	if err == nil {
		t.Fatal("expected orphan dependency error")
	}
	var orphanErr *OrphanDependencyError
	if !errors.As(err, &orphanErr) {
		t.Fatalf("expected *OrphanDependencyError, got %T: %v", err, err)
	}
}

func TestComputeLevels_Empty(t *testing.T) {
	levels, err := ComputeLevels(nil, nil)
	if err != nil {
		t.Fatalf("ComputeLevels: %v", err)
	}
	if len(levels) != 0 {
		t.Errorf("expected no levels for empty issue list, got %v", levels)
	}
}

func TestComputeLevels_SingleRootFansOut(t *testing.T) {
	issues := []Issue{
		issue("root", 1),
		issue("A", 2, "root"),
		issue("B", 3, "root"),
		issue("C", 4, "root"),
	}
	levels, err := ComputeLevels(issues, nil)
	if err != nil {
		t.Fatalf("ComputeLevels: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d: %v", len(levels), levels)
	}
	if len(levels[0]) != 1 || len(levels[1]) != 3 {
		t.Errorf("expected 1 then 3, got %v", levels)
	}
}

func TestDetectFileConflicts(t *testing.T) {
	issues := map[string]Issue{
		"A": {Name: "A", FilesToModify: []string{"x.go", "y.go"}},
		"B": {Name: "B", FilesToCreate: []string{"x.go"}},
		"C": {Name: "C", FilesToModify: []string{"z.go"}},
	}
	conflicts := DetectFileConflicts(0, issues, []string{"A", "B", "C"})
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d: %v", len(conflicts), conflicts)
	}
	if conflicts[0].IssueA != "A" || conflicts[0].IssueB != "B" {
		t.Errorf("unexpected conflict pair: %+v", conflicts[0])
	}
	if !reflect.DeepEqual(conflicts[0].Files, []string{"x.go"}) {
		t.Errorf("unexpected conflict files: %v", conflicts[0].Files)
	}
}
