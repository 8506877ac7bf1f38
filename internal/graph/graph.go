// Package graph partitions task dependency graphs into ordered parallel groups.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ShayCichocki/baton/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// Provider computes the ordered parallel groups for a task list.
// Implementations must be deterministic: for the same task list they return
// the same group sequence, and every task appears in exactly one group.
type Provider interface {
	// ParallelGroups returns the ordered sequence of group identifiers.
	ParallelGroups(tasks []*models.Task) ([]string, error)
	// TasksInGroup returns the subset of tasks belonging to the given group.
	// All returned tasks have their dependencies in strictly earlier groups.
	TasksInGroup(tasks []*models.Task, groupID string) []*models.Task
}

// LevelProvider partitions tasks into topological levels: group N holds every
// task whose longest dependency chain has length N. Group identifiers are
// "group-1", "group-2", ... in execution order.
type LevelProvider struct{}

// NewLevelProvider creates a LevelProvider.
func NewLevelProvider() *LevelProvider {
	return &LevelProvider{}
}

// Verify LevelProvider implements Provider at compile time.
var _ Provider = (*LevelProvider)(nil)

// GroupID returns the identifier for the 1-based group index.
func GroupID(n int) string {
	return fmt.Sprintf("group-%d", n)
}

// ParallelGroups validates the graph and returns the ordered group IDs.
// Returns an error if a dependency references an unknown task or the graph
// contains a cycle.
func (p *LevelProvider) ParallelGroups(tasks []*models.Task) ([]string, error) {
	levels, err := levelize(tasks)
	if err != nil {
		return nil, err
	}

	groups := make([]string, len(levels))
	for i := range levels {
		groups[i] = GroupID(i + 1)
	}
	return groups, nil
}

// TasksInGroup returns the tasks at the level named by groupID, sorted by task
// ID for deterministic dispatch order. An unknown group ID yields nil.
func (p *LevelProvider) TasksInGroup(tasks []*models.Task, groupID string) []*models.Task {
	levels, err := levelize(tasks)
	if err != nil {
		return nil
	}

	for i, level := range levels {
		if GroupID(i+1) == groupID {
			return level
		}
	}
	return nil
}

// levelize computes topological levels using Kahn's algorithm. Each task's
// level is one past the maximum level of its dependencies.
func levelize(tasks []*models.Task) ([][]*models.Task, error) {
	nodes := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		nodes[t.ID] = t
	}

	for _, t := range tasks {
		for _, depID := range t.DependsOn {
			if _, ok := nodes[depID]; !ok {
				return nil, fmt.Errorf("task %s depends on unknown task %s", t.ID, depID)
			}
		}
	}

	// Indegree over remaining (unplaced) tasks.
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for _, t := range tasks {
		indegree[t.ID] = len(t.DependsOn)
		for _, depID := range t.DependsOn {
			dependents[depID] = append(dependents[depID], t.ID)
		}
	}

	var levels [][]*models.Task
	placed := 0
	for placed < len(tasks) {
		var level []*models.Task
		for _, t := range tasks {
			if indegree[t.ID] == 0 {
				level = append(level, t)
			}
		}
		if len(level) == 0 {
			// Tasks remain but none is free of unmet dependencies.
			return nil, ErrCycleDetected
		}

		sort.Slice(level, func(i, j int) bool { return level[i].ID < level[j].ID })

		for _, t := range level {
			indegree[t.ID] = -1 // placed
			for _, depID := range dependents[t.ID] {
				indegree[depID]--
			}
		}

		levels = append(levels, level)
		placed += len(level)
	}

	return levels, nil
}
