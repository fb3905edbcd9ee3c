package agent

import "time"

// Config is the Agent Invocation Layer's slice of the top-level
// configuration (spec §6).
type Config struct {
	Runtime              string            `yaml:"runtime"`
	Models               map[string]string `yaml:"models"`
	AgentTimeoutSeconds  int               `yaml:"agent_timeout_seconds"`
	AgentMaxTurns        int               `yaml:"agent_max_turns"`
	PermissionMode       string            `yaml:"permission_mode"`
}

// DefaultConfig returns the documented defaults from spec §6.
func DefaultConfig() *Config {
	return &Config{
		Runtime:             "default",
		Models:              map[string]string{},
		AgentTimeoutSeconds: 2700,
		AgentMaxTurns:       150,
		PermissionMode:      "",
	}
}

// Timeout returns AgentTimeoutSeconds as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

// ResolveModel implements the role→model resolution order from spec §6:
// runtime-default < models.default < models.<role>.
func (c *Config) ResolveModel(runtimeDefault string, role Role) string {
	model := runtimeDefault
	if c.Models != nil {
		if def, ok := c.Models["default"]; ok && def != "" {
			model = def
		}
		if perRole, ok := c.Models[string(role)]; ok && perRole != "" {
			model = perRole
		}
	}
	return model
}

// ConstraintsFor builds the Constraints for a single invocation of role,
// applying the resolved model and the configured timeout/turn/permission
// knobs.
func (c *Config) ConstraintsFor(role Role, runtimeDefaultModel string) Constraints {
	return Constraints{
		Timeout:        c.Timeout(),
		MaxTurns:       c.AgentMaxTurns,
		Model:          c.ResolveModel(runtimeDefaultModel, role),
		PermissionMode: c.PermissionMode,
	}
}
