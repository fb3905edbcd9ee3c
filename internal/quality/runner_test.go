package quality_test

import (
	"context"
	"testing"
	"time"

	"github.com/forgepilot/orchestrator/internal/quality"
)

func TestRun_SuccessCommand(t *testing.T) {
	gate := &quality.Gate{Name: "ok", Type: quality.GateCustom, Command: "exit 0", Required: true}
	res := quality.Run(context.Background(), ".", gate)
	if !res.Passed() {
		t.Fatalf("expected pass, got status=%s error=%s output=%s", res.Status, res.Error, res.Output)
	}
}

func TestRun_FailingCommandCapturesExitCode(t *testing.T) {
	gate := &quality.Gate{Name: "bad", Type: quality.GateCustom, Command: "exit 3", Required: true}
	res := quality.Run(context.Background(), ".", gate)
	if res.Passed() {
		t.Fatal("expected failure")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestRun_TimeoutReportsGateTimeout(t *testing.T) {
	gate := &quality.Gate{Name: "slow", Type: quality.GateCustom, Command: "sleep 5", Required: true, Timeout: 10 * time.Millisecond}
	res := quality.Run(context.Background(), ".", gate)
	if res.Passed() {
		t.Fatal("expected timeout failure")
	}
	if res.Error != quality.ErrGateTimeout.Error() {
		t.Errorf("Error = %q, want gate timeout", res.Error)
	}
}

func TestRunAll_OptionalFailureDoesNotFailSuite(t *testing.T) {
	cfg := &quality.Config{
		Gates: []*quality.Gate{
			{Name: "required-ok", Command: "exit 0", Required: true},
			{Name: "optional-fail", Command: "exit 1", Required: false},
		},
	}
	results := quality.RunAll(context.Background(), ".", cfg)
	if !results.AllPassed {
		t.Error("optional gate failure should not flip AllPassed")
	}
	if len(results.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results.Results))
	}
}

func TestRunAll_RequiredFailureFailsSuite(t *testing.T) {
	cfg := &quality.Config{
		Gates: []*quality.Gate{
			{Name: "required-fail", Command: "exit 1", Required: true},
		},
	}
	results := quality.RunAll(context.Background(), ".", cfg)
	if results.AllPassed {
		t.Error("required gate failure should flip AllPassed to false")
	}
}
