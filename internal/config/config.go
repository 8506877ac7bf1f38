// Package config handles configuration loading and management for baton.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for baton.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Agent        AgentConfig        `mapstructure:"agent"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	State        StateConfig        `mapstructure:"state"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. Supports ${VAR} expansion.
	APIKey string `mapstructure:"api_key"`
	// Model is the Claude model to use.
	Model string `mapstructure:"model"`
	// UseAWSBedrock routes API calls through AWS Bedrock.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the AWS region for Bedrock.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
}

// OrchestratorConfig holds scheduling defaults for orchestration runs.
type OrchestratorConfig struct {
	// MaxAgents is the maximum number of concurrent agents.
	MaxAgents int `mapstructure:"max_agents"`
	// TaskTimeout is the per-task execution timeout.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// RetryDelay is the base delay before retrying a failed task.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// MaxRetries is the retry budget per task.
	MaxRetries int `mapstructure:"max_retries"`
	// CheckpointAfterGroup pauses for external approval between groups.
	CheckpointAfterGroup bool `mapstructure:"checkpoint_after_group"`
	// ApprovalDir is where checkpoint approval files are watched.
	ApprovalDir string `mapstructure:"approval_dir"`
}

// AgentConfig holds per-agent execution settings.
type AgentConfig struct {
	// Backend selects the Claude execution backend: subprocess or api.
	Backend string `mapstructure:"backend"`
	// BaseBranch is the branch agent worktrees are created from.
	BaseBranch string `mapstructure:"base_branch"`
	// WorktreeDir is the base directory for agent worktrees.
	WorktreeDir string `mapstructure:"worktree_dir"`
	// RunTests runs the test gate in the worktree after execution.
	RunTests bool `mapstructure:"run_tests"`
	// RunLint runs the lint gate in the worktree after execution.
	RunLint bool `mapstructure:"run_lint"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

// StateConfig holds state persistence settings.
type StateConfig struct {
	// Path is the sqlite database path. Empty disables persistence.
	Path string `mapstructure:"path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
//  1. Environment variables (ANTHROPIC_API_KEY)
//  2. Project config (.baton.yaml in current directory or a parent)
//  3. User config (~/.config/baton/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.max_agents", 3)
	v.SetDefault("orchestrator.task_timeout", 30*time.Minute)
	v.SetDefault("orchestrator.retry_delay", 5*time.Second)
	v.SetDefault("orchestrator.max_retries", 2)
	v.SetDefault("orchestrator.checkpoint_after_group", false)
	v.SetDefault("orchestrator.approval_dir", ".baton/approvals")
	v.SetDefault("agent.backend", "subprocess")
	v.SetDefault("agent.base_branch", "main")
	v.SetDefault("agent.run_tests", false)
	v.SetDefault("agent.run_lint", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("state.path", filepath.Join(".baton", "state.db"))
}

// userConfigDir returns the XDG config directory for baton.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "baton")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "baton")
}

// findProjectConfig searches the current directory and its parents for .baton.yaml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".baton.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in a config value.
func expandEnv(s string) string {
	if strings.Contains(s, "${") {
		return os.ExpandEnv(s)
	}
	return s
}
