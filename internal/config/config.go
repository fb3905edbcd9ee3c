// Package config loads and validates the orchestrator's run
// configuration: the single options table from spec §6, plus the
// sub-configs each surviving subsystem contributes (quality gates,
// budget tracking, logging).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/forgepilot/orchestrator/internal/agent"
	"github.com/forgepilot/orchestrator/internal/budget"
	"github.com/forgepilot/orchestrator/internal/logging"
	"github.com/forgepilot/orchestrator/internal/quality"
)

// Config is the full set of recognized run options. Unknown YAML keys
// are rejected at Load time via yaml.v3's KnownFields decoder mode, per
// spec §6 ("unknown options are rejected").
type Config struct {
	MaxCodingIterations   int  `yaml:"max_coding_iterations"`
	MaxAdvisorInvocations int  `yaml:"max_advisor_invocations"`
	MaxReplans            int  `yaml:"max_replans"`
	MaxReviewIterations   int  `yaml:"max_review_iterations"`
	MaxVerifyFixCycles    int  `yaml:"max_verify_fix_cycles"`
	EnableAdvisor         bool `yaml:"enable_advisor"`
	EnableReplanning      bool `yaml:"enable_replanning"`
	EnableLearning        bool `yaml:"enable_learning"`

	// ConcurrencyCap bounds parallel issues per level. Zero means
	// unbounded ("∞" in spec §6).
	ConcurrencyCap int `yaml:"concurrency_cap"`

	Agent   *agent.Config   `yaml:"agent"`
	Quality *quality.Config `yaml:"quality"`
	Budget  *budget.Config  `yaml:"budget"`
	Logging *logging.Config `yaml:"logging"`
}

// DefaultConfig returns the documented defaults from spec §6.
func DefaultConfig() *Config {
	return &Config{
		MaxCodingIterations:   5,
		MaxAdvisorInvocations: 2,
		MaxReplans:            2,
		MaxReviewIterations:   1,
		MaxVerifyFixCycles:    1,
		EnableAdvisor:         true,
		EnableReplanning:      true,
		EnableLearning:        false,
		ConcurrencyCap:        0,

		Agent:   agent.DefaultConfig(),
		Quality: quality.DefaultConfig(),
		Budget:  budget.DefaultConfig(),
		Logging: logging.DefaultConfig(),
	}
}

// Load reads a YAML configuration file at path, starting from
// DefaultConfig and overlaying any keys present in the file.
// Environment variables are expanded using os.ExpandEnv syntax. A
// missing file is not an error — Load returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config (unknown keys are rejected): %w", err)
	}

	return cfg, nil
}

// Save writes cfg to a YAML file at path, creating parent directories
// as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks cfg's invariants: every cap must be non-negative,
// max_coding_iterations and max_review_iterations must be at least 1, and
// a concurrency cap of zero is treated as unbounded rather than
// "run nothing".
func (c *Config) Validate() error {
	if c.MaxCodingIterations < 1 {
		return fmt.Errorf("max_coding_iterations must be at least 1, got %d", c.MaxCodingIterations)
	}
	if c.MaxAdvisorInvocations < 0 {
		return fmt.Errorf("max_advisor_invocations must be non-negative, got %d", c.MaxAdvisorInvocations)
	}
	if c.MaxReplans < 0 {
		return fmt.Errorf("max_replans must be non-negative, got %d", c.MaxReplans)
	}
	if c.MaxReviewIterations < 1 {
		return fmt.Errorf("max_review_iterations must be at least 1, got %d", c.MaxReviewIterations)
	}
	if c.MaxVerifyFixCycles < 0 {
		return fmt.Errorf("max_verify_fix_cycles must be non-negative, got %d", c.MaxVerifyFixCycles)
	}
	if c.ConcurrencyCap < 0 {
		return fmt.Errorf("concurrency_cap must be non-negative, got %d", c.ConcurrencyCap)
	}
	return nil
}

// EffectiveConcurrencyCap returns the concurrency cap as the scheduler
// should interpret it: a configured zero means unbounded, represented
// as the largest practical int rather than a sentinel the scheduler
// must special-case at every call site.
func (c *Config) EffectiveConcurrencyCap() int {
	if c.ConcurrencyCap <= 0 {
		return int(^uint(0) >> 1)
	}
	return c.ConcurrencyCap
}

// DefaultConfigPath returns ~/.forgepilot/config.yaml.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".forgepilot", "config.yaml")
}
