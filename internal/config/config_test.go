package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/forgepilot/orchestrator/internal/config"
)

func TestDefaultConfig_MatchesDocumentedDefaults(t *testing.T) {
	cfg := config.DefaultConfig()

	cases := map[string]int{
		"max_coding_iterations":   cfg.MaxCodingIterations,
		"max_advisor_invocations": cfg.MaxAdvisorInvocations,
		"max_replans":             cfg.MaxReplans,
		"max_review_iterations":   cfg.MaxReviewIterations,
		"max_verify_fix_cycles":   cfg.MaxVerifyFixCycles,
	}
	want := map[string]int{
		"max_coding_iterations":   5,
		"max_advisor_invocations": 2,
		"max_replans":             2,
		"max_review_iterations":   1,
		"max_verify_fix_cycles":   1,
	}
	for key, got := range cases {
		if got != want[key] {
			t.Errorf("%s = %d, want %d", key, got, want[key])
		}
	}

	if !cfg.EnableAdvisor || !cfg.EnableReplanning || cfg.EnableLearning {
		t.Errorf("unexpected enable flags: %+v", cfg)
	}
	if cfg.Agent.AgentTimeoutSeconds != 2700 || cfg.Agent.AgentMaxTurns != 150 {
		t.Errorf("unexpected agent defaults: %+v", cfg.Agent)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxCodingIterations != 5 {
		t.Errorf("expected defaults for missing file, got %+v", cfg)
	}
}

func TestLoad_OverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "max_replans: 4\nenable_learning: true\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxReplans != 4 {
		t.Errorf("MaxReplans = %d, want 4 (overlay)", cfg.MaxReplans)
	}
	if !cfg.EnableLearning {
		t.Error("EnableLearning should be true (overlay)")
	}
	if cfg.MaxCodingIterations != 5 {
		t.Errorf("MaxCodingIterations = %d, want 5 (untouched default)", cfg.MaxCodingIterations)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("max_replans: 4\nnonexistent_option: true\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := config.Load(path); err == nil {
		t.Error("expected an error for unknown config key")
	}
}

func TestValidate_RejectsNegativeCaps(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxReplans = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for negative max_replans")
	}
}

func TestEffectiveConcurrencyCap_ZeroMeansUnbounded(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ConcurrencyCap = 0
	if got := cfg.EffectiveConcurrencyCap(); got <= 0 {
		t.Errorf("expected a large positive cap, got %d", got)
	}

	cfg.ConcurrencyCap = 3
	if got := cfg.EffectiveConcurrencyCap(); got != 3 {
		t.Errorf("EffectiveConcurrencyCap() = %d, want 3", got)
	}
}
