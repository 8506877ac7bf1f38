package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Worktree represents a git worktree owned by a single agent attempt.
type Worktree struct {
	Path       string    // Absolute path to the worktree directory
	BranchName string    // Branch associated with this worktree
	AgentID    string    // ID of the agent that owns this worktree
	CreatedAt  time.Time // When the worktree was created
}

// gitRunner executes git commands against a repository. Abstracted so
// worktree operations can be tested without a real repository.
type gitRunner interface {
	run(args ...string) (string, error)
}

// execGit is the real gitRunner backed by the git binary.
type execGit struct {
	repoPath string
}

func (g *execGit) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// WorktreeManager handles git worktree operations for agent isolation.
// Each attempt gets its own worktree and branch off the base branch.
type WorktreeManager struct {
	baseDir  string
	repoPath string
	git      gitRunner
	mu       sync.Mutex
}

// NewWorktreeManager creates a new WorktreeManager.
// baseDir is where worktrees are created (defaults to ~/.cache/baton/worktrees).
func NewWorktreeManager(baseDir, repoPath string) (*WorktreeManager, error) {
	return newWorktreeManager(baseDir, repoPath, &execGit{repoPath: repoPath})
}

func newWorktreeManager(baseDir, repoPath string, git gitRunner) (*WorktreeManager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "baton", "worktrees")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	return &WorktreeManager{
		baseDir:  baseDir,
		repoPath: repoPath,
		git:      git,
	}, nil
}

// Create creates a new worktree for the given agent, branched from baseBranch.
func (m *WorktreeManager) Create(agentID, baseBranch string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agentID == "" {
		agentID = uuid.New().String()
	}

	branchName := fmt.Sprintf("agent-%s", agentID)
	worktreePath := filepath.Join(m.baseDir, branchName)

	args := []string{"worktree", "add", "-b", branchName, worktreePath}
	if baseBranch != "" {
		args = append(args, baseBranch)
	}
	if _, err := m.git.run(args...); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	return &Worktree{
		Path:       worktreePath,
		BranchName: branchName,
		AgentID:    agentID,
		CreatedAt:  time.Now(),
	}, nil
}

// Remove removes a worktree and its branch. If force is true, removes the
// worktree even with uncommitted changes.
func (m *WorktreeManager) Remove(wt *Worktree, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, wt.Path)
	if _, err := m.git.run(args...); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}

	if wt.BranchName != "" {
		// Branch deletion failing is not fatal; the worktree is gone.
		_, _ = m.git.run("branch", "-D", wt.BranchName)
	}
	return nil
}

// List returns all agent worktrees managed by this repository.
func (m *WorktreeManager) List() ([]*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(output), nil
}

// Prune removes references to worktrees that no longer exist on disk.
func (m *WorktreeManager) Prune() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.git.run("worktree", "prune"); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}
	return nil
}

// BaseDir returns the base directory where worktrees are created.
func (m *WorktreeManager) BaseDir() string {
	return m.baseDir
}

// parseWorktreeList parses 'git worktree list --porcelain' output, keeping
// only agent-owned worktrees.
func parseWorktreeList(output string) []*Worktree {
	var worktrees []*Worktree
	var current *Worktree

	flush := func() {
		if current != nil && current.AgentID != "" {
			worktrees = append(worktrees, current)
		}
		current = nil
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			flush()
			current = &Worktree{Path: path}
			continue
		}
		if ref, ok := strings.CutPrefix(line, "branch "); ok && current != nil {
			current.BranchName = strings.TrimPrefix(ref, "refs/heads/")
			if id, ok := strings.CutPrefix(current.BranchName, "agent-"); ok {
				current.AgentID = id
			}
		}
	}
	flush()

	return worktrees
}
