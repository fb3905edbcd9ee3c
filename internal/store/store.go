// Package store implements the Artifact & Checkpoint Store (C2): durable
// storage of plan artifacts, per-issue iteration traces, and the
// serialized DAGState, laid out under a single artifacts root.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgepilot/orchestrator/internal/model"
)

// Layout directory names, relative to an artifacts root (spec §4.3).
const (
	planDir          = "plan"
	executionDir     = "execution"
	iterationsDir    = "execution/iterations"
	verificationDir  = "verification"
	checkpointFile   = "execution/checkpoint.json"
)

// ErrNoCheckpoint is returned by LoadCheckpoint when no checkpoint
// exists, or the one on disk is empty or unparseable — both treated
// identically as "no checkpoint" per spec §4.3.
var ErrNoCheckpoint = errors.New("store: no checkpoint")

// Store is a filesystem-backed artifact and checkpoint store rooted at
// a single directory.
type Store struct {
	root string
}

// Open ensures root and its subdirectories exist and returns a Store
// bound to it.
func Open(root string) (*Store, error) {
	for _, dir := range []string{planDir, executionDir, iterationsDir, verificationDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create artifact directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the artifacts root directory.
func (s *Store) Root() string { return s.root }

// WriteCheckpoint atomically persists state: write to a sibling temp
// file, fsync, then rename over the previous checkpoint. This is the
// only durability guarantee resume_build relies on (spec §4.3, O3).
func (s *Store) WriteCheckpoint(state *model.DAGState) error {
	path := filepath.Join(s.root, checkpointFile)
	return atomicWriteJSON(path, state)
}

// LoadCheckpoint reads the persisted DAGState. A missing, empty, or
// unparseable checkpoint is reported as ErrNoCheckpoint rather than a
// hard error, matching spec §4.3's "size zero or schema mismatch ⇒ no
// checkpoint" rule.
func (s *Store) LoadCheckpoint() (*model.DAGState, error) {
	path := filepath.Join(s.root, checkpointFile)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("stat checkpoint: %w", err)
	}
	if info.Size() == 0 {
		return nil, ErrNoCheckpoint
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var state model.DAGState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, ErrNoCheckpoint
	}
	return &state, nil
}

// WritePlanArtifact persists a named plan-phase artifact (PRD,
// architecture, per-issue spec, rationale) as JSON under plan/.
func (s *Store) WritePlanArtifact(name string, v any) error {
	path := filepath.Join(s.root, planDir, name+".json")
	return atomicWriteJSON(path, v)
}

// WriteIterationRecord persists one coding-loop iteration's structured
// inputs/outputs under execution/iterations/<issue>/<iter>.json. Prompt
// text is deliberately not part of the record (spec §4.3).
func (s *Store) WriteIterationRecord(issueName string, iteration int, v any) error {
	dir := filepath.Join(s.root, iterationsDir, issueName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create iteration directory for %s: %w", issueName, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.json", iteration))
	return atomicWriteJSON(path, v)
}

// WriteVerificationResult persists one criterion-by-criterion
// verification pass under verification/.
func (s *Store) WriteVerificationResult(name string, v any) error {
	path := filepath.Join(s.root, verificationDir, name+".json")
	return atomicWriteJSON(path, v)
}

// atomicWriteJSON marshals v and writes it to path via write-temp,
// fsync, rename — the same crash-safety idiom the teacher's executor
// uses for worktree state files.
func atomicWriteJSON(path string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file into place for %s: %w", path, err)
	}
	return nil
}
