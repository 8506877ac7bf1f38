package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no project config is found.
	tmp := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Orchestrator.MaxAgents != 3 {
		t.Errorf("expected default max_agents 3, got %d", cfg.Orchestrator.MaxAgents)
	}
	if cfg.Orchestrator.TaskTimeout != 30*time.Minute {
		t.Errorf("expected default task_timeout 30m, got %v", cfg.Orchestrator.TaskTimeout)
	}
	if cfg.Orchestrator.RetryDelay != 5*time.Second {
		t.Errorf("expected default retry_delay 5s, got %v", cfg.Orchestrator.RetryDelay)
	}
	if cfg.Orchestrator.MaxRetries != 2 {
		t.Errorf("expected default max_retries 2, got %d", cfg.Orchestrator.MaxRetries)
	}
	if cfg.Agent.Backend != "subprocess" {
		t.Errorf("expected default backend subprocess, got %q", cfg.Agent.Backend)
	}
	if cfg.Agent.BaseBranch != "main" {
		t.Errorf("expected default base_branch main, got %q", cfg.Agent.BaseBranch)
	}
}

func TestLoadProjectOverride(t *testing.T) {
	tmp := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))

	project := []byte("orchestrator:\n  max_agents: 7\n  max_retries: 0\n")
	if err := os.WriteFile(filepath.Join(tmp, ".baton.yaml"), project, 0644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Orchestrator.MaxAgents != 7 {
		t.Errorf("expected max_agents 7 from project config, got %d", cfg.Orchestrator.MaxAgents)
	}
	if cfg.Orchestrator.MaxRetries != 0 {
		t.Errorf("expected max_retries 0 from project config, got %d", cfg.Orchestrator.MaxRetries)
	}
}

func TestLoadAPIKeyFromEnv(t *testing.T) {
	tmp := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-test-key" {
		t.Errorf("expected API key from env, got %q", cfg.Anthropic.APIKey)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("BATON_TEST_SECRET", "value")

	if got := expandEnv("${BATON_TEST_SECRET}"); got != "value" {
		t.Errorf("expected expanded value, got %q", got)
	}
	if got := expandEnv("plain"); got != "plain" {
		t.Errorf("expected passthrough, got %q", got)
	}
}
