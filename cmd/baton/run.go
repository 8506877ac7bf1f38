package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/baton/internal/agent"
	"github.com/ShayCichocki/baton/internal/api"
	"github.com/ShayCichocki/baton/internal/checkpoint"
	"github.com/ShayCichocki/baton/internal/orchestrator"
	"github.com/ShayCichocki/baton/internal/state"
)

var (
	runMaxAgents   int
	runMaxRetries  int
	runRetryDelay  time.Duration
	runTimeout     time.Duration
	runCheckpoints bool
	runBaseBranch  string
	runVerbose     bool
)

var runCmd = &cobra.Command{
	Use:   "run <task-file>",
	Short: "Execute a task file across parallel agents",
	Long: `Run loads a YAML task file, computes dependency-ordered parallel
groups, and executes each group across isolated worker agents.

Press Ctrl-C once to stop the run; live agents are halted and the session
is marked failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runMaxAgents, "max-agents", 0, "Maximum concurrent agents (default from config)")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", -1, "Retry budget per task (default from config)")
	runCmd.Flags().DurationVar(&runRetryDelay, "retry-delay", 0, "Base retry backoff delay (default from config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-task timeout (default from config)")
	runCmd.Flags().BoolVar(&runCheckpoints, "checkpoint", false, "Pause for approval between groups")
	runCmd.Flags().StringVar(&runBaseBranch, "base-branch", "", "Branch agent worktrees start from (default from config)")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Stream agent output")
}

func runRun(cmd *cobra.Command, args []string) error {
	tasks, err := loadTasks(args[0])
	if err != nil {
		return err
	}

	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	runners, apiClient, err := buildRunnerFactory()
	if err != nil {
		return err
	}

	worktrees, err := agent.NewWorktreeManager(cfg.Agent.WorktreeDir, repoPath)
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}

	factory := &agent.EnvironmentFactory{
		Worktrees: worktrees,
		Runners:   runners,
		RunTests:  cfg.Agent.RunTests,
		RunLint:   cfg.Agent.RunLint,
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessionID := uuid.New().String()[:8]
	opts := []orchestrator.Option{
		orchestrator.WithMaxAgents(orDefault(runMaxAgents, cfg.Orchestrator.MaxAgents)),
		orchestrator.WithTaskTimeout(orDefaultDur(runTimeout, cfg.Orchestrator.TaskTimeout)),
		orchestrator.WithRetryDelay(orDefaultDur(runRetryDelay, cfg.Orchestrator.RetryDelay)),
		orchestrator.WithRepoPath(repoPath),
		orchestrator.WithBaseBranch(orDefaultStr(runBaseBranch, cfg.Agent.BaseBranch)),
		orchestrator.WithStore(store),
	}
	if runMaxRetries >= 0 {
		opts = append(opts, orchestrator.WithMaxRetries(runMaxRetries))
	} else {
		opts = append(opts, orchestrator.WithMaxRetries(cfg.Orchestrator.MaxRetries))
	}
	checkpoints := runCheckpoints || cfg.Orchestrator.CheckpointAfterGroup
	opts = append(opts, orchestrator.WithCheckpoints(checkpoints))

	orch, err := orchestrator.New(orchestrator.RequiredConfig{
		SessionID: sessionID,
		Tasks:     tasks,
		Factory:   factory,
	}, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	events, unsubscribe := orch.Subscribe()
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		renderEvents(events)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		color.Yellow("stopping, halting live agents...")
		orch.Stop(context.Background())
		cancel()
	}()

	pauseCh := make(chan os.Signal, 1)
	signal.Notify(pauseCh, syscall.SIGUSR1)
	defer signal.Stop(pauseCh)
	go func() {
		for range pauseCh {
			color.Yellow("pause requested, letting running agents finish...")
			orch.Pause()
		}
	}()

	resumeCh := make(chan os.Signal, 1)
	signal.Notify(resumeCh, syscall.SIGUSR2)
	defer signal.Stop(resumeCh)

	if checkpoints {
		waiter, err := checkpoint.NewWaiter(cfg.Orchestrator.ApprovalDir)
		if err != nil {
			return err
		}
		go approveCheckpoints(ctx, waiter, orch)
		color.Cyan("checkpoints enabled; approve with: baton approve %s <group>", sessionID)
	}

	color.Cyan("session %s: %d tasks in %d groups, up to %d agents",
		sessionID, len(tasks), orch.Status().TotalGroups, orDefault(runMaxAgents, cfg.Orchestrator.MaxAgents))

	startErr := orch.Start(ctx)
	for startErr == nil && orch.Status().State == orchestrator.StatePaused {
		color.Yellow("paused at group %d; resume with: kill -USR2 %d", orch.Status().CurrentGroup+1, os.Getpid())
		select {
		case <-ctx.Done():
			startErr = ctx.Err()
		case <-resumeCh:
			startErr = orch.Resume(ctx)
		}
		if orch.Status().State == orchestrator.StateFailed {
			break
		}
	}
	orch.Cleanup(context.Background())
	unsubscribe()
	<-renderDone

	st := orch.Status()
	printSummary(st)
	if apiClient != nil {
		in, out := apiClient.Tracker().Total()
		fmt.Printf("tokens: %d in / %d out across %d calls, ~$%.2f\n",
			in, out, apiClient.Tracker().Calls(), apiClient.Tracker().Cost())
	}
	if startErr != nil {
		return startErr
	}
	if st.State == orchestrator.StateFailed {
		return fmt.Errorf("session %s failed", sessionID)
	}
	return nil
}

// approveCheckpoints bridges file-based approvals into the orchestrator gate.
func approveCheckpoints(ctx context.Context, waiter *checkpoint.Waiter, orch *orchestrator.Orchestrator) {
	for {
		st := orch.Status()
		if st.State == orchestrator.StateCompleted || st.State == orchestrator.StateFailed {
			return
		}
		if st.State == orchestrator.StateCheckpointMerge {
			if err := waiter.Wait(ctx, orch.SessionID(), st.CurrentGroup+1); err != nil {
				return
			}
			orch.ApproveCheckpoint()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// buildRunnerFactory picks the execution backend from configuration. The
// returned client is non-nil only for the API backend.
func buildRunnerFactory() (agent.RunnerFactory, *api.Client, error) {
	switch cfg.Agent.Backend {
	case "", "subprocess":
		if err := CheckClaudeCLI(); err != nil {
			return nil, nil, err
		}
		return &agent.ProcessRunnerFactory{Model: cfg.Anthropic.Model}, nil, nil
	case "api":
		client, err := api.NewClient(api.ClientConfig{
			APIKey:        cfg.Anthropic.APIKey,
			Model:         anthropic.Model(cfg.Anthropic.Model),
			UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create API client: %w", err)
		}
		factory := &agent.APIRunnerFactory{
			Client:       client,
			SystemPrompt: "You are an engineering agent completing one task in a repository.",
		}
		return factory, client, nil
	default:
		return nil, nil, fmt.Errorf("unknown agent backend %q", cfg.Agent.Backend)
	}
}

// openStore opens the configured state database, or a no-op store when
// persistence is disabled.
func openStore() (state.Store, error) {
	if cfg.State.Path == "" {
		return state.NopStore{}, nil
	}
	db, err := state.Open(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return db, nil
}

// renderEvents prints the orchestrator's notification stream.
func renderEvents(events <-chan orchestrator.Event) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	for e := range events {
		switch e.Type {
		case orchestrator.EventState:
			cyan.Printf("state: %s\n", e.State)
		case orchestrator.EventGroupStart:
			cyan.Printf("group %s started\n", e.GroupID)
		case orchestrator.EventGroupComplete:
			green.Printf("group %s complete\n", e.GroupID)
		case orchestrator.EventTaskComplete:
			green.Printf("  task %s done\n", e.TaskID)
		case orchestrator.EventTaskRetry:
			yellow.Printf("  task %s failed, retry %d in %s: %s\n", e.TaskID, e.Retries, e.Delay, e.Error)
		case orchestrator.EventTaskFailed:
			red.Printf("  task %s permanently failed after %d retries: %s\n", e.TaskID, e.Retries, e.Error)
		case orchestrator.EventCheckpoint:
			yellow.Printf("checkpoint after %s, waiting for approval\n", e.GroupID)
		case orchestrator.EventAgentOutput:
			if runVerbose {
				fmt.Printf("  [%s] %s\n", e.AgentID, e.Output)
			}
		case orchestrator.EventComplete:
			green.Printf("session complete: %d done, %d failed in %s\n", e.Completed, e.Failed, e.Elapsed.Round(time.Second))
		case orchestrator.EventError:
			red.Printf("error: %s\n", e.Error)
		}
	}
}

func printSummary(st orchestrator.Status) {
	fmt.Printf("\n%d/%d tasks completed (%d%%), state %s\n", st.Completed, st.TotalTasks, st.Progress, st.State)
	for _, g := range st.Groups {
		fmt.Printf("  %-10s %-10s %d/%d tasks\n", g.GroupID, g.State, g.Completed, g.Tasks)
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultDur(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultStr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
