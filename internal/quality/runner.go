package quality

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Run executes a single gate's command in projectPath and reports a
// Result. It makes a single attempt: neither Run nor RunAll reads
// Gate.MaxRetries or Gate.RetryDelay, and no caller retries a gate.
func Run(ctx context.Context, projectPath string, gate *Gate) *Result {
	started := time.Now()

	timeout := gate.DefaultTimeout()
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "bash", "-c", gate.Command)
	cmd.Dir = projectPath

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	completed := time.Now()

	result := &Result{
		GateName:    gate.Name,
		Output:      out.String(),
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Status = StatusFailed
		result.Error = ErrGateTimeout.Error()
		return result
	}

	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		}
		return result
	}

	result.Status = StatusPassed
	return result
}

// RunAll runs every gate in cfg against projectPath, one after another
// in cfg.Gates order for deterministic output; cfg.IsParallel is not
// consulted. Only a failed Required gate clears AllPassed.
func RunAll(ctx context.Context, projectPath string, cfg *Config) *CheckResults {
	started := time.Now()
	results := &CheckResults{StartedAt: started, AllPassed: true}

	for _, gate := range cfg.Gates {
		res := Run(ctx, projectPath, gate)
		if !res.Passed() && gate.Required {
			results.AllPassed = false
		}
		results.Results = append(results.Results, res)
	}

	results.CompletedAt = time.Now()
	results.TotalTime = results.CompletedAt.Sub(results.StartedAt)
	return results
}
