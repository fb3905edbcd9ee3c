// Package budget tracks the estimated dollar and token cost of a single
// build run. It is informational only: nothing in the scheduler consults
// it to gate or pause execution, matching the supplemental-feature note
// in SPEC_FULL.md that cost tracking never blocks scheduling.
package budget

import "sync"

// Config controls whether cost estimates are recorded and at what rate
// card they're priced, since different backends/models report usage in
// incompatible units.
type Config struct {
	Enabled         bool               `yaml:"enabled"`
	CostPerMillionInputTokens  float64 `yaml:"cost_per_million_input_tokens"`
	CostPerMillionOutputTokens float64 `yaml:"cost_per_million_output_tokens"`
}

// DefaultConfig enables tracking with a conservative flat estimate.
func DefaultConfig() *Config {
	return &Config{
		Enabled:                    true,
		CostPerMillionInputTokens:  3.0,
		CostPerMillionOutputTokens: 15.0,
	}
}

// Usage is one invocation's reported token consumption.
type Usage struct {
	Role         string
	InputTokens  int
	OutputTokens int
}

// Tracker accumulates Usage across an entire build run. It is safe for
// concurrent use since level issues execute in parallel.
type Tracker struct {
	mu     sync.Mutex
	cfg    *Config
	usages []Usage
}

// NewTracker constructs a Tracker bound to cfg.
func NewTracker(cfg *Config) *Tracker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Tracker{cfg: cfg}
}

// Record adds u to the running total. A no-op when tracking is disabled.
func (t *Tracker) Record(u Usage) {
	if !t.cfg.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usages = append(t.usages, u)
}

// TotalTokens returns the summed input and output token counts.
func (t *Tracker) TotalTokens() (input, output int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range t.usages {
		input += u.InputTokens
		output += u.OutputTokens
	}
	return input, output
}

// EstimatedCostUSD returns the running cost estimate in US dollars,
// rounded to nothing in particular — it is a rough figure reported
// alongside BuildResult, not a billing record.
func (t *Tracker) EstimatedCostUSD() float64 {
	input, output := t.TotalTokens()
	return float64(input)/1_000_000*t.cfg.CostPerMillionInputTokens +
		float64(output)/1_000_000*t.cfg.CostPerMillionOutputTokens
}

// ByRole returns the total input+output token count grouped by role, for
// dashboards that want a per-role breakdown.
func (t *Tracker) ByRole() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := map[string]int{}
	for _, u := range t.usages {
		out[u.Role] += u.InputTokens + u.OutputTokens
	}
	return out
}
