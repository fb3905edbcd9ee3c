package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forgepilot/orchestrator/internal/dashboard"
	"github.com/forgepilot/orchestrator/internal/model"
	"github.com/forgepilot/orchestrator/internal/orchestrator"
	"github.com/forgepilot/orchestrator/internal/store"
)

func newBuildCmd() *cobra.Command {
	var jsonOutput bool
	var watch bool

	cmd := &cobra.Command{
		Use:   "build [goal]",
		Short: "Run the full pipeline: plan, schedule, verify",
		Long: `build runs the Planning Pipeline, the DAG Scheduler, and the
bounded Verify-Fix Loop against repo-path, driving goal to completion.

repo-path must already exist on disk; cloning a remote repository is
an external concern this CLI does not perform.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath, err := cmd.Flags().GetString("repo-path")
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := ctxWithSignals()
			defer cancel()

			if watch {
				dashCtx, stopDash := context.WithCancel(ctx)
				defer stopDash()
				go runDashboard(dashCtx, repoPath)
			}

			result, err := orchestrator.Build(ctx, args[0], repoPath, cfg)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(result)
			}
			printBuildResult(result)
			return nil
		},
	}

	cmd.Flags().String("repo-path", ".", "path to the target repository")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the BuildResult as JSON")
	cmd.Flags().BoolVar(&watch, "watch", false, "show the live TUI dashboard while the build runs")
	return cmd
}

func newPlanCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "plan [goal]",
		Short: "Run the Planning Pipeline alone and print the resulting PlanResult",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath, err := cmd.Flags().GetString("repo-path")
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := ctxWithSignals()
			defer cancel()

			result, err := orchestrator.Plan(ctx, args[0], repoPath, cfg)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(result)
			}
			fmt.Printf("goal: %s\n", result.PRD.Goal)
			fmt.Printf("issues: %d across %d levels\n", len(result.Issues), len(result.Levels))
			if len(result.FileConflicts) > 0 {
				fmt.Printf("file conflicts flagged: %d\n", len(result.FileConflicts))
			}
			return nil
		},
	}

	cmd.Flags().String("repo-path", ".", "path to the target repository")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the PlanResult as JSON")
	return cmd
}

func newExecuteCmd() *cobra.Command {
	var jsonOutput bool
	var planPath string

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run the DAG Scheduler over a previously saved plan artifact",
		Long: `execute loads a PlanResult JSON file (as written by "forgepilot plan --json")
and drives the scheduler to completion, without the Verify-Fix Loop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath, err := cmd.Flags().GetString("repo-path")
			if err != nil {
				return err
			}
			if planPath == "" {
				return fmt.Errorf("--plan is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			plan, err := readPlanArtifact(planPath)
			if err != nil {
				return err
			}

			ctx, cancel := ctxWithSignals()
			defer cancel()

			state, err := orchestrator.Execute(ctx, plan, repoPath, cfg)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(state)
			}
			fmt.Printf("run %s: status=%s completed=%d failed=%d\n",
				state.RunID, state.Status, len(state.Completed), len(state.FailedUnrecoverable))
			return nil
		},
	}

	cmd.Flags().String("repo-path", ".", "path to the target repository")
	cmd.Flags().StringVar(&planPath, "plan", "", "path to a saved PlanResult JSON file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the DAGState as JSON")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a build from its last checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath, err := cmd.Flags().GetString("repo-path")
			if err != nil {
				return err
			}
			artifactsDir, err := cmd.Flags().GetString("artifacts-dir")
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := ctxWithSignals()
			defer cancel()

			result, err := orchestrator.ResumeBuild(ctx, repoPath, artifactsDir, cfg)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(result)
			}
			printBuildResult(result)
			return nil
		},
	}

	cmd.Flags().String("repo-path", ".", "path to the target repository")
	cmd.Flags().String("artifacts-dir", "artifacts", "path to the run's artifacts directory")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the BuildResult as JSON")
	return cmd
}

func readPlanArtifact(path string) (*model.PlanResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan artifact: %w", err)
	}
	var plan model.PlanResult
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan artifact: %w", err)
	}
	return &plan, nil
}

func printBuildResult(result *model.BuildResult) {
	fmt.Printf("status: %s\n", result.Status)
	if result.Diagnostic != "" {
		fmt.Printf("diagnostic: %s\n", result.Diagnostic)
	}
	for _, phase := range result.Phases {
		fmt.Printf("level %d: %d completed, %d failed (of %d)\n",
			phase.Level, len(phase.Completed), len(phase.Failed), len(phase.Issues))
	}
	if len(result.AccumulatedDebt) > 0 {
		fmt.Printf("accumulated debt: %d item(s)\n", len(result.AccumulatedDebt))
	}
	if result.EstimatedCostUSD > 0 {
		fmt.Printf("estimated cost: $%.4f\n", result.EstimatedCostUSD)
	}
}

// runDashboard polls the run's checkpoint file on disk rather than
// reaching into orchestrator's in-memory state, so the TUI stays a
// read-only observer with no coupling to the scheduler's goroutine.
func runDashboard(ctx context.Context, repoPath string) {
	st, err := store.Open(filepath.Join(repoPath, artifactsSubdir))
	if err != nil {
		return
	}
	provider := func() *model.DAGState {
		state, err := st.LoadCheckpoint()
		if err != nil {
			return nil
		}
		return state
	}
	done := make(chan struct{})
	go func() {
		_ = dashboard.Run(provider)
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
}

const artifactsSubdir = "artifacts"
