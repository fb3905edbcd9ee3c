package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/forgepilot/orchestrator/internal/model"
	"github.com/forgepilot/orchestrator/internal/store"
)

func TestOpen_CreatesLayoutDirectories(t *testing.T) {
	root := t.TempDir()
	if _, err := store.Open(root); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, dir := range []string{"plan", "execution", "execution/iterations", "verification"} {
		if info, err := os.Stat(filepath.Join(root, dir)); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", dir)
		}
	}
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	state := model.NewDAGState("run-1", "/repo", s.Root())
	state.Levels = [][]string{{"a"}}
	if err := s.WriteCheckpoint(state); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}

	loaded, err := s.LoadCheckpoint()
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if !state.Equal(loaded) {
		t.Errorf("loaded state does not match written state:\nwant %+v\ngot  %+v", state, loaded)
	}
}

func TestLoadCheckpoint_MissingFileIsNoCheckpoint(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.LoadCheckpoint(); err != store.ErrNoCheckpoint {
		t.Errorf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestLoadCheckpoint_ZeroSizeFileIsNoCheckpoint(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := filepath.Join(s.Root(), "execution", "checkpoint.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write empty checkpoint: %v", err)
	}
	if _, err := s.LoadCheckpoint(); err != store.ErrNoCheckpoint {
		t.Errorf("expected ErrNoCheckpoint for zero-size file, got %v", err)
	}
}

func TestLoadCheckpoint_CorruptFileIsNoCheckpoint(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := filepath.Join(s.Root(), "execution", "checkpoint.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("write corrupt checkpoint: %v", err)
	}
	if _, err := s.LoadCheckpoint(); err != store.ErrNoCheckpoint {
		t.Errorf("expected ErrNoCheckpoint for corrupt file, got %v", err)
	}
}

func TestWriteIterationRecord_CreatesPerIssueDirectory(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.WriteIterationRecord("issue-a", 1, map[string]string{"outcome": "FIX"}); err != nil {
		t.Fatalf("WriteIterationRecord: %v", err)
	}
	path := filepath.Join(s.Root(), "execution", "iterations", "issue-a", "1.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected iteration record at %s: %v", path, err)
	}
}

func TestWritePlanArtifact_PersistsUnderPlanDir(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.WritePlanArtifact("prd", map[string]string{"goal": "ship it"}); err != nil {
		t.Fatalf("WritePlanArtifact: %v", err)
	}
	path := filepath.Join(s.Root(), "plan", "prd.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected plan artifact at %s: %v", path, err)
	}
}
