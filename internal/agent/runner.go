// Package agent provides the per-attempt execution environment for baton tasks.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/ShayCichocki/baton/internal/api"
)

// StreamEventType represents the type of stream event from a Claude backend.
type StreamEventType string

const (
	// StreamEventSystem indicates a system message.
	StreamEventSystem StreamEventType = "system"
	// StreamEventAssistant indicates an assistant message.
	StreamEventAssistant StreamEventType = "assistant"
	// StreamEventResult indicates a final result.
	StreamEventResult StreamEventType = "result"
	// StreamEventError indicates an error.
	StreamEventError StreamEventType = "error"
)

// StreamEvent represents a parsed event from a Claude execution backend.
type StreamEvent struct {
	// Type is the event type.
	Type StreamEventType `json:"type"`
	// Message contains the event content when applicable.
	Message string `json:"message,omitempty"`
	// Error contains error details when Type is StreamEventError.
	Error string `json:"error,omitempty"`
	// Raw contains the original JSON for debugging.
	Raw json.RawMessage `json:"-"`
}

// Runner is a single-shot Claude execution backend. A Runner is used for
// exactly one task attempt and is not reused.
type Runner interface {
	// Start launches execution with the given prompt and working directory.
	Start(ctx context.Context, prompt, workDir string) error
	// Output returns a channel of stream events; closed when execution completes.
	Output() <-chan StreamEvent
	// Wait blocks until execution completes and returns any error.
	Wait() error
	// Kill terminates execution immediately. Best-effort.
	Kill() error
}

// RunnerFactory creates Runner instances, one per task attempt.
type RunnerFactory interface {
	NewRunner() Runner
}

// ClaudeProcess runs a task through the Claude Code CLI subprocess.
type ClaudeProcess struct {
	model  string
	cmd    *exec.Cmd
	stdout io.ReadCloser

	cancel   context.CancelFunc
	outputCh chan StreamEvent
	done     chan struct{}
	mu       sync.Mutex
	started  bool
	waitErr  error
}

// Verify ClaudeProcess implements Runner at compile time.
var _ Runner = (*ClaudeProcess)(nil)

// NewClaudeProcess creates a new subprocess-backed runner.
func NewClaudeProcess() *ClaudeProcess {
	return &ClaudeProcess{
		outputCh: make(chan StreamEvent, 100),
		done:     make(chan struct{}),
	}
}

// ProcessRunnerFactory creates subprocess-backed runners.
type ProcessRunnerFactory struct {
	// Model is the Claude model to use; empty uses the CLI default.
	Model string
}

// NewRunner creates a new subprocess runner.
func (f *ProcessRunnerFactory) NewRunner() Runner {
	p := NewClaudeProcess()
	p.model = f.Model
	return p
}

// Start launches the Claude Code subprocess with the given prompt and worktree
// path, using --output-format stream-json so progress can be streamed.
func (p *ClaudeProcess) Start(ctx context.Context, prompt, workDir string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("process already started")
	}

	ctx, p.cancel = context.WithCancel(ctx)

	// Project's .claude/settings.json can still deny specific patterns.
	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
		"--allowedTools", "Read,Write,Edit,Bash,Glob,Grep",
	}
	if p.model != "" {
		args = append(args, "--model", p.model)
	}
	args = append(args, "-p", prompt)

	p.cmd = exec.CommandContext(ctx, "claude", args...)
	if workDir != "" {
		p.cmd.Dir = workDir
	}

	var err error
	p.stdout, err = p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	p.started = true
	go p.readOutput()
	return nil
}

// readOutput reads and parses JSON events from stdout, then records the exit
// status for Wait.
func (p *ClaudeProcess) readOutput() {
	defer close(p.done)
	defer close(p.outputCh)

	scanner := bufio.NewScanner(p.stdout)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		p.outputCh <- parseStreamEvent(line)
	}

	p.mu.Lock()
	p.waitErr = p.cmd.Wait()
	p.mu.Unlock()
}

// parseStreamEvent parses one stream-json line. Unparseable lines become
// error events rather than aborting the stream.
func parseStreamEvent(line []byte) StreamEvent {
	var event StreamEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return StreamEvent{
			Type:  StreamEventError,
			Error: fmt.Sprintf("parse error: %v", err),
			Raw:   append([]byte(nil), line...),
		}
	}
	event.Raw = append([]byte(nil), line...)
	return event
}

// Output returns the stream event channel.
func (p *ClaudeProcess) Output() <-chan StreamEvent {
	return p.outputCh
}

// Wait blocks until the subprocess exits.
func (p *ClaudeProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Kill terminates the subprocess.
func (p *ClaudeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// APIRunner executes a task attempt through the Anthropic API directly.
// The full response arrives as a single result event.
type APIRunner struct {
	runner *api.Runner
	system string

	cancel   context.CancelFunc
	outputCh chan StreamEvent
	done     chan struct{}
	mu       sync.Mutex
	started  bool
	waitErr  error
}

// Verify APIRunner implements Runner at compile time.
var _ Runner = (*APIRunner)(nil)

// NewAPIRunner creates an API-backed runner.
func NewAPIRunner(runner *api.Runner, systemPrompt string) *APIRunner {
	return &APIRunner{
		runner:   runner,
		system:   systemPrompt,
		outputCh: make(chan StreamEvent, 10),
		done:     make(chan struct{}),
	}
}

// APIRunnerFactory creates API-backed runners sharing one client.
type APIRunnerFactory struct {
	Client *api.Client
	// SystemPrompt is prepended to every attempt.
	SystemPrompt string
}

// NewRunner creates a new API runner.
func (f *APIRunnerFactory) NewRunner() Runner {
	return NewAPIRunner(api.NewRunner(f.Client), f.SystemPrompt)
}

// Start launches the API call in the background.
func (a *APIRunner) Start(ctx context.Context, prompt, workDir string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("runner already started")
	}
	a.started = true

	ctx, a.cancel = context.WithCancel(ctx)

	go func() {
		defer close(a.done)
		defer close(a.outputCh)

		text, err := a.runner.RunWithSystem(ctx, a.system, prompt)
		if err != nil {
			a.mu.Lock()
			a.waitErr = err
			a.mu.Unlock()
			a.outputCh <- StreamEvent{Type: StreamEventError, Error: err.Error()}
			return
		}
		a.outputCh <- StreamEvent{Type: StreamEventResult, Message: text}
	}()

	return nil
}

// Output returns the stream event channel.
func (a *APIRunner) Output() <-chan StreamEvent {
	return a.outputCh
}

// Wait blocks until the API call completes.
func (a *APIRunner) Wait() error {
	<-a.done
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.waitErr
}

// Kill cancels the in-flight API call.
func (a *APIRunner) Kill() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}
