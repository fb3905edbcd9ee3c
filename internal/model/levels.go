package model

import (
	"fmt"
	"sort"
)

// CycleError is returned when ComputeLevels finds a cycle in depends_on.
// It is a fatal planning error per spec §4.4 and a replan-rejection signal
// per spec §4.8 step 5.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency among issues: %v", e.Members)
}

// OrphanDependencyError is returned when an issue depends on a name not
// present in the issue set being leveled (and not already satisfied).
type OrphanDependencyError struct {
	IssueName string
	DependsOn string
}

func (e *OrphanDependencyError) Error() string {
	return fmt.Sprintf("issue %q depends on unknown issue %q", e.IssueName, e.DependsOn)
}

// ComputeLevels performs Kahn's-algorithm topological leveling over
// issues, treating every name in satisfied as an already-resolved
// dependency (used for completed issues, per spec §4.5 step 8 and
// §4.8 step 5: "completed issues are treated as already-satisfied
// dependencies"). Levels are ordered, and within a level issues are
// ordered by ascending SequenceNumber for a stable, reproducible
// partition (spec §8 "stable ordering by sequence number").
func ComputeLevels(issues []Issue, satisfied map[string]bool) ([][]string, error) {
	byName := make(map[string]Issue, len(issues))
	for _, iss := range issues {
		byName[iss.Name] = iss
	}

	inDegree := make(map[string]int, len(issues))
	dependents := make(map[string][]string, len(issues))

	for _, iss := range issues {
		remaining := 0
		for _, dep := range iss.DependsOn {
			if satisfied[dep] {
				continue
			}
			if _, ok := byName[dep]; !ok {
				return nil, &OrphanDependencyError{IssueName: iss.Name, DependsOn: dep}
			}
			remaining++
			dependents[dep] = append(dependents[dep], iss.Name)
		}
		inDegree[iss.Name] = remaining
	}

	var levels [][]string
	processed := make(map[string]bool, len(issues))
	remainingCount := len(issues)

	frontier := readyNames(issues, inDegree, processed)
	for remainingCount > 0 {
		if len(frontier) == 0 {
			// Nothing ready but issues remain: a cycle.
			var members []string
			for _, iss := range issues {
				if !processed[iss.Name] {
					members = append(members, iss.Name)
				}
			}
			sort.Strings(members)
			return nil, &CycleError{Members: members}
		}

		level := make([]string, len(frontier))
		copy(level, frontier)
		levels = append(levels, level)

		for _, name := range level {
			processed[name] = true
			remainingCount--
		}
		for _, name := range level {
			for _, dep := range dependents[name] {
				inDegree[dep]--
			}
		}

		frontier = readyNames(issues, inDegree, processed)
	}

	return levels, nil
}

func readyNames(issues []Issue, inDegree map[string]int, processed map[string]bool) []string {
	type seqName struct {
		seq  int
		name string
	}
	var ready []seqName
	for _, iss := range issues {
		if processed[iss.Name] {
			continue
		}
		if inDegree[iss.Name] == 0 {
			ready = append(ready, seqName{iss.SequenceNumber, iss.Name})
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].seq != ready[j].seq {
			return ready[i].seq < ready[j].seq
		}
		return ready[i].name < ready[j].name
	})
	names := make([]string, len(ready))
	for i, r := range ready {
		names[i] = r.name
	}
	return names
}

// DetectFileConflicts finds advisory same-level file conflicts by pairwise
// intersection of (files_to_create ∪ files_to_modify) (spec §4.4).
func DetectFileConflicts(level int, issues map[string]Issue, levelMembers []string) []FileConflict {
	var conflicts []FileConflict
	fileSets := make(map[string]map[string]bool, len(levelMembers))
	for _, name := range levelMembers {
		iss := issues[name]
		set := make(map[string]bool, len(iss.FilesToCreate)+len(iss.FilesToModify))
		for _, f := range iss.FilesToCreate {
			set[f] = true
		}
		for _, f := range iss.FilesToModify {
			set[f] = true
		}
		fileSets[name] = set
	}
	for i := 0; i < len(levelMembers); i++ {
		for j := i + 1; j < len(levelMembers); j++ {
			a, b := levelMembers[i], levelMembers[j]
			var shared []string
			for f := range fileSets[a] {
				if fileSets[b][f] {
					shared = append(shared, f)
				}
			}
			if len(shared) > 0 {
				sort.Strings(shared)
				conflicts = append(conflicts, FileConflict{Level: level, IssueA: a, IssueB: b, Files: shared})
			}
		}
	}
	return conflicts
}
