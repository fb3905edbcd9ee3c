// Package main is the forgepilot CLI: a thin cobra front end over
// internal/orchestrator's four entry points (build, plan, execute,
// resume_build). Everything domain-specific lives in internal/; this
// package only parses flags, loads config, and renders results.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgepilot/orchestrator/internal/config"
)

var (
	version = "0.1.0"
	cfgFile string
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "forgepilot",
		Short: "Autonomous software-engineering orchestrator",
		Long:  `forgepilot plans, schedules, and drives coding agents through a goal to a working, merged, verified change set.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.forgepilot/config.yaml)")

	rootCmd.AddCommand(
		newBuildCmd(),
		newPlanCmd(),
		newExecuteCmd(),
		newResumeCmd(),
		newDoctorCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show forgepilot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("forgepilot %s\n", version)
		},
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// ctxWithSignals returns a context cancelled on SIGINT/SIGTERM, so a
// long-running build can unwind through the scheduler's cancellation
// path (spec §4.6) instead of leaving a worktree or checkpoint mid-write.
func ctxWithSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
