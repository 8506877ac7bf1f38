package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/baton/internal/config"
	"github.com/ShayCichocki/baton/internal/logging"
)

var cfg *config.Config
var logLevel string

// CheckClaudeCLI verifies that the 'claude' CLI is available in PATH.
// Returns an error with installation instructions if not found.
func CheckClaudeCLI() error {
	_, err := exec.LookPath("claude")
	if err != nil {
		return fmt.Errorf("claude CLI not found in PATH\n\n" +
			"Baton drives agents through the Claude Code CLI.\n\n" +
			"Install it with:\n" +
			"  npm install -g @anthropic-ai/claude-code\n\n" +
			"Or switch to the API backend with 'agent.backend: api' in .baton.yaml")
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "baton",
	Short: "Parallel task orchestrator for coding agents",
	Long: `Baton splits a task list into dependency-ordered groups and executes
each group's tasks concurrently across isolated worker agents.

Core capabilities:
- Computes parallel groups from task dependencies
- Spawns isolated agents in git worktrees, bounded by a concurrency limit
- Retries failures with exponential backoff
- Pauses at checkpoint gates between groups for external approval
- Persists sessions so runs can be inspected after the fact`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := logging.Init(logging.Config{
			Level:  cfg.Logging.Level,
			Path:   cfg.Logging.Path,
			Format: cfg.Logging.Format,
		}); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(versionCmd)
}
