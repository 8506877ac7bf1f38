package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/baton/internal/logging"
	"github.com/ShayCichocki/baton/pkg/models"
)

// NotificationType classifies environment notifications.
type NotificationType string

const (
	// NotificationState indicates an agent lifecycle phase change.
	NotificationState NotificationType = "state"
	// NotificationOutput carries streamed execution output.
	NotificationOutput NotificationType = "output"
	// NotificationComplete is terminal for the attempt.
	NotificationComplete NotificationType = "complete"
)

// Notification is emitted by an Environment as its attempt progresses.
type Notification struct {
	Type       NotificationType
	AgentID    string
	TaskID     string
	State      models.AgentStatus
	Output     string
	Completion *Completion
}

// Metrics reports resource usage for a completed attempt.
type Metrics struct {
	TokensIn  int64
	TokensOut int64
	Cost      float64
	Duration  time.Duration
}

// Completion is the terminal result of one task attempt.
type Completion struct {
	AgentID string
	TaskID  string
	Success bool
	Error   string
	Metrics *Metrics
}

// Config describes one task attempt. Built by the orchestrator per dispatch.
type Config struct {
	// AgentID uniquely identifies this attempt.
	AgentID string
	// Task is the task to execute.
	Task *models.Task
	// SessionID is the owning orchestration session.
	SessionID string
	// BaseBranch is the branch the attempt's worktree is created from.
	BaseBranch string
	// RepoPath is the repository location.
	RepoPath string
	// Timeout bounds the execute step.
	Timeout time.Duration
}

// Environment is a one-shot, stateful execution unit bound to exactly one
// task attempt. Lifecycle: Initialize, Execute, then Cleanup; Stop may be
// called at any point to abort.
type Environment interface {
	// AgentID returns the attempt identifier.
	AgentID() string
	// TaskID returns the task being attempted.
	TaskID() string
	// Initialize prepares the execution sandbox.
	Initialize(ctx context.Context) error
	// Execute performs the task. A terminal completion notification is always
	// emitted, whether or not an error is returned.
	Execute(ctx context.Context) error
	// Stop aborts execution. Best-effort; never fails.
	Stop(ctx context.Context) error
	// Cleanup releases attempt-scoped resources such as the worktree.
	Cleanup(ctx context.Context) error
	// Notifications returns the attempt's event stream.
	Notifications() <-chan Notification
}

// Factory constructs Environments, one per task attempt.
type Factory interface {
	New(cfg Config) (Environment, error)
}

// WorktreeEnvironment executes a task in an isolated git worktree using a
// Claude runner backend, with optional test/lint gates.
type WorktreeEnvironment struct {
	cfg       Config
	worktrees *WorktreeManager
	runners   RunnerFactory
	runTests  bool
	runLint   bool
	log       zerolog.Logger

	mu          sync.Mutex
	worktree    *Worktree
	runner      Runner
	stopped     bool
	completed   bool
	notifyCh    chan Notification
	cleanupOnce sync.Once
}

// Verify WorktreeEnvironment implements Environment at compile time.
var _ Environment = (*WorktreeEnvironment)(nil)

// EnvironmentFactory builds WorktreeEnvironments sharing a worktree manager
// and runner factory.
type EnvironmentFactory struct {
	Worktrees *WorktreeManager
	Runners   RunnerFactory
	RunTests  bool
	RunLint   bool
}

// Verify EnvironmentFactory implements Factory at compile time.
var _ Factory = (*EnvironmentFactory)(nil)

// New creates an environment for one attempt.
func (f *EnvironmentFactory) New(cfg Config) (Environment, error) {
	if cfg.Task == nil {
		return nil, fmt.Errorf("agent config requires a task")
	}
	if f.Runners == nil {
		return nil, fmt.Errorf("runner factory is required")
	}
	return &WorktreeEnvironment{
		cfg:       cfg,
		worktrees: f.Worktrees,
		runners:   f.Runners,
		runTests:  f.RunTests,
		runLint:   f.RunLint,
		log:       logging.Component("agent"),
		notifyCh:  make(chan Notification, 100),
	}, nil
}

// AgentID returns the attempt identifier.
func (e *WorktreeEnvironment) AgentID() string { return e.cfg.AgentID }

// TaskID returns the task being attempted.
func (e *WorktreeEnvironment) TaskID() string { return e.cfg.Task.ID }

// Notifications returns the attempt's event stream.
func (e *WorktreeEnvironment) Notifications() <-chan Notification {
	return e.notifyCh
}

// Initialize creates the isolated worktree for this attempt.
func (e *WorktreeEnvironment) Initialize(ctx context.Context) error {
	e.emitState(models.AgentStatusPending)

	if e.worktrees == nil {
		// No isolation configured; run in the repository itself.
		return nil
	}

	wt, err := e.worktrees.Create(e.cfg.AgentID, e.cfg.BaseBranch)
	if err != nil {
		return fmt.Errorf("initialize agent %s: %w", e.cfg.AgentID, err)
	}

	e.mu.Lock()
	e.worktree = wt
	e.mu.Unlock()

	e.log.Debug().Str("agent", e.cfg.AgentID).Str("worktree", wt.Path).Msg("worktree created")
	return nil
}

// Execute runs the task attempt to completion. The per-attempt timeout is
// enforced here; the orchestrator only reacts to the resulting completion.
func (e *WorktreeEnvironment) Execute(ctx context.Context) error {
	start := time.Now()
	e.emitState(models.AgentStatusRunning)

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	runner := e.runners.NewRunner()
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return e.fail(start, "agent stopped before execution")
	}
	e.runner = runner
	e.mu.Unlock()

	if err := runner.Start(ctx, buildPrompt(e.cfg.Task), e.workDir()); err != nil {
		return e.fail(start, fmt.Sprintf("start runner: %v", err))
	}

	for event := range runner.Output() {
		switch event.Type {
		case StreamEventError:
			e.emitOutput(event.Error)
		default:
			if event.Message != "" {
				e.emitOutput(event.Message)
			}
		}
	}

	if err := runner.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return e.fail(start, fmt.Sprintf("task timed out after %s", e.cfg.Timeout))
		}
		return e.fail(start, err.Error())
	}

	if err := e.runGates(ctx); err != nil {
		return e.fail(start, err.Error())
	}

	e.complete(&Completion{
		AgentID: e.cfg.AgentID,
		TaskID:  e.cfg.Task.ID,
		Success: true,
		Metrics: &Metrics{Duration: time.Since(start)},
	})
	e.emitState(models.AgentStatusDone)
	return nil
}

// runGates runs the configured verification gates in the work directory.
func (e *WorktreeEnvironment) runGates(ctx context.Context) error {
	dir := e.workDir()
	if e.runTests {
		if err := runGate(ctx, dir, "go", "test", "./..."); err != nil {
			return fmt.Errorf("test gate: %w", err)
		}
	}
	if e.runLint {
		if err := runGate(ctx, dir, "go", "vet", "./..."); err != nil {
			return fmt.Errorf("lint gate: %w", err)
		}
	}
	return nil
}

// fail emits a failure completion and returns the corresponding error.
func (e *WorktreeEnvironment) fail(start time.Time, msg string) error {
	e.complete(&Completion{
		AgentID: e.cfg.AgentID,
		TaskID:  e.cfg.Task.ID,
		Success: false,
		Error:   msg,
		Metrics: &Metrics{Duration: time.Since(start)},
	})
	e.emitState(models.AgentStatusFailed)
	return fmt.Errorf("agent %s: %s", e.cfg.AgentID, msg)
}

// Stop aborts the attempt. Safe to call at any time, never fails.
func (e *WorktreeEnvironment) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	runner := e.runner
	e.mu.Unlock()

	if runner != nil {
		if err := runner.Kill(); err != nil {
			e.log.Warn().Str("agent", e.cfg.AgentID).Err(err).Msg("kill runner")
		}
	}
	e.emitState(models.AgentStatusStopped)
	return nil
}

// Cleanup removes the worktree and closes the notification stream. Idempotent.
func (e *WorktreeEnvironment) Cleanup(ctx context.Context) error {
	var err error
	e.cleanupOnce.Do(func() {
		e.mu.Lock()
		wt := e.worktree
		e.worktree = nil
		e.mu.Unlock()

		if wt != nil && e.worktrees != nil {
			if rmErr := e.worktrees.Remove(wt, true); rmErr != nil {
				e.log.Warn().Str("agent", e.cfg.AgentID).Err(rmErr).Msg("remove worktree")
				err = rmErr
			}
		}
		close(e.notifyCh)
	})
	return err
}

// workDir returns where the attempt executes: the worktree when isolation is
// on, the repository otherwise.
func (e *WorktreeEnvironment) workDir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.worktree != nil {
		return e.worktree.Path
	}
	return e.cfg.RepoPath
}

func (e *WorktreeEnvironment) emitState(status models.AgentStatus) {
	e.emit(Notification{
		Type:    NotificationState,
		AgentID: e.cfg.AgentID,
		TaskID:  e.cfg.Task.ID,
		State:   status,
	})
}

func (e *WorktreeEnvironment) emitOutput(output string) {
	e.emit(Notification{
		Type:    NotificationOutput,
		AgentID: e.cfg.AgentID,
		TaskID:  e.cfg.Task.ID,
		Output:  output,
	})
}

// complete emits the terminal notification at most once.
func (e *WorktreeEnvironment) complete(c *Completion) {
	e.mu.Lock()
	if e.completed {
		e.mu.Unlock()
		return
	}
	e.completed = true
	e.mu.Unlock()

	e.emit(Notification{
		Type:       NotificationComplete,
		AgentID:    c.AgentID,
		TaskID:     c.TaskID,
		Completion: c,
	})
}

// emit delivers a notification, dropping it if the buffer is full. Cleanup
// must not run until the attempt has finished emitting.
func (e *WorktreeEnvironment) emit(n Notification) {
	select {
	case e.notifyCh <- n:
	default:
	}
}

// buildPrompt renders the execution prompt for a task.
func buildPrompt(task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are completing a single engineering task in this repository.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "\nDetails:\n%s\n", task.Description)
	}
	b.WriteString("\nMake the necessary changes, keep them focused on this task, and commit your work when done.")
	return b.String()
}
