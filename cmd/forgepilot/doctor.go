package main

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/forgepilot/orchestrator/internal/config"
)

type checkResult struct {
	name    string
	ok      bool
	message string
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the configured agent runtime and config file are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgErr := loadConfig()
			if cfgErr != nil {
				cfg = config.DefaultConfig()
			}

			checks := []checkResult{checkConfigLoad(cfgErr)}
			if cfg.Agent != nil {
				checks = append(checks, checkRuntime(cfg.Agent.Runtime))
			}
			checks = append(checks, checkValidation(cfg))

			fmt.Println("forgepilot doctor")
			fmt.Println("=================")
			allOK := true
			for _, c := range checks {
				symbol := "✓"
				if !c.ok {
					symbol = "✗"
					allOK = false
				}
				fmt.Printf("  %s %-24s %s\n", symbol, c.name, c.message)
			}
			if !allOK {
				return fmt.Errorf("one or more checks failed")
			}
			return nil
		},
	}
}

func checkConfigLoad(err error) checkResult {
	if err != nil {
		return checkResult{name: "config file", ok: false, message: err.Error()}
	}
	return checkResult{name: "config file", ok: true, message: "loaded (or defaulted)"}
}

func checkValidation(cfg *config.Config) checkResult {
	if err := cfg.Validate(); err != nil {
		return checkResult{name: "config validation", ok: false, message: err.Error()}
	}
	return checkResult{name: "config validation", ok: true, message: "all caps within range"}
}

func checkRuntime(command string) checkResult {
	if command == "" {
		return checkResult{name: "agent runtime", ok: false, message: "agent.runtime is not set"}
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return checkResult{name: "agent runtime", ok: false, message: fmt.Sprintf("%q not found on PATH", command)}
	}
	return checkResult{name: "agent runtime", ok: true, message: path}
}
