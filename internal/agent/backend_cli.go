package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/forgepilot/orchestrator/internal/logging"
)

// CLIBackendConfig configures a subprocess-backed Backend: one command
// template invoked per role, fed a JSON request on stdin and expected to
// print a single trailing JSON envelope line on stdout.
type CLIBackendConfig struct {
	// Command is the executable to run, e.g. "claude" or "opencode".
	Command string `yaml:"command"`
	// ExtraArgs are appended after the role-specific flags.
	ExtraArgs []string `yaml:"extra_args"`
}

// CLIBackend adapts a command-line coding agent into the Backend
// interface by shelling out via os/exec, the same idiom the coding
// backend uses for subprocess orchestration.
type CLIBackend struct {
	name   string
	config CLIBackendConfig
	log    *slog.Logger
}

// NewCLIBackend constructs a CLIBackend named name using cfg.
func NewCLIBackend(name string, cfg CLIBackendConfig) *CLIBackend {
	return &CLIBackend{
		name:   name,
		config: cfg,
		log:    logging.WithComponent("agent.cli_backend." + name),
	}
}

func (b *CLIBackend) Name() string { return b.name }

type cliRequestEnvelope struct {
	Role            string            `json:"role"`
	Inputs          any               `json:"inputs"`
	ContextSnippets []string          `json:"context_snippets,omitempty"`
	SharedMemory    map[string]string `json:"shared_memory,omitempty"`
	Tools           []ToolCapability  `json:"tools"`
	MaxTurns        int               `json:"max_turns"`
	Model           string            `json:"model,omitempty"`
	PermissionMode  string            `json:"permission_mode,omitempty"`
}

// Execute runs the configured command, writes a JSON request to stdin,
// and parses the last JSON object on stdout as the response envelope.
// A process that is killed by ctx expiring is reported as a TIMED_OUT
// envelope rather than a transport error, matching the invocation
// layer's "timeouts surface as failures (never exceptions)" rule
// (spec §5).
func (b *CLIBackend) Execute(ctx context.Context, req Request) (*Envelope, error) {
	payload := cliRequestEnvelope{
		Role:            string(req.Role),
		Inputs:          req.Inputs,
		ContextSnippets: req.ContextSnippets,
		SharedMemory:    req.SharedMemory,
		Tools:           req.Tools,
		MaxTurns:        req.Constraints.MaxTurns,
		Model:           req.Constraints.Model,
		PermissionMode:  req.Constraints.PermissionMode,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal cli request: %w", err)
	}

	callCtx := ctx
	cancel := func() {}
	if req.Constraints.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, req.Constraints.Timeout)
	}
	defer cancel()

	args := append([]string{"--role", string(req.Role)}, b.config.ExtraArgs...)
	cmd := exec.CommandContext(callCtx, b.config.Command, args...)
	cmd.Stdin = bytes.NewReader(body)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.log.Debug("invoking backend", "role", req.Role, "model", req.Constraints.Model)
	runErr := cmd.Run()

	if callCtx.Err() != nil {
		return &Envelope{Status: StatusTimedOut, Message: "agent invocation exceeded its timeout"}, nil
	}

	env, parseErr := parseTrailingEnvelope(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return nil, fmt.Errorf("backend %s exited with error and produced no envelope: %w: %s", b.name, runErr, stderr.String())
		}
		return nil, fmt.Errorf("backend %s produced no parseable envelope: %w", b.name, parseErr)
	}
	return env, nil
}

// parseTrailingEnvelope scans stdout line by line and parses the last
// non-empty line as a JSON envelope, matching the trailing-result-line
// convention used by streaming CLI coding agents.
func parseTrailingEnvelope(out []byte) (*Envelope, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var last string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		last = line
	}
	if last == "" {
		return nil, fmt.Errorf("empty output")
	}

	var raw struct {
		Status  Status          `json:"status"`
		Payload json.RawMessage `json:"payload"`
		Message string          `json:"message"`
		Usage   *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(last), &raw); err != nil {
		return nil, fmt.Errorf("parse trailing line as envelope: %w", err)
	}
	env := &Envelope{Status: raw.Status, Payload: raw.Payload, Message: raw.Message}
	if raw.Usage != nil {
		env.Usage = Usage{InputTokens: raw.Usage.InputTokens, OutputTokens: raw.Usage.OutputTokens}
	}
	return env, nil
}
