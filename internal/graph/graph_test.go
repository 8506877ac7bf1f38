package graph

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/baton/pkg/models"
)

func TestParallelGroupsLinearChain(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}

	p := NewLevelProvider()
	groups, err := p.ParallelGroups(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if groups[0] != "group-1" || groups[2] != "group-3" {
		t.Errorf("unexpected group IDs: %v", groups)
	}
}

func TestParallelGroupsIndependentTasks(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a"},
		{ID: "b"},
		{ID: "c"},
	}

	p := NewLevelProvider()
	groups, err := p.ParallelGroups(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}

	inGroup := p.TasksInGroup(tasks, groups[0])
	if len(inGroup) != 3 {
		t.Errorf("expected 3 tasks in group, got %d", len(inGroup))
	}
}

func TestParallelGroupsDiamond(t *testing.T) {
	tasks := []*models.Task{
		{ID: "root"},
		{ID: "left", DependsOn: []string{"root"}},
		{ID: "right", DependsOn: []string{"root"}},
		{ID: "join", DependsOn: []string{"left", "right"}},
	}

	p := NewLevelProvider()
	groups, err := p.ParallelGroups(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}

	middle := p.TasksInGroup(tasks, groups[1])
	if len(middle) != 2 {
		t.Fatalf("expected 2 tasks in middle group, got %d", len(middle))
	}
	// Sorted by ID for deterministic dispatch order.
	if middle[0].ID != "left" || middle[1].ID != "right" {
		t.Errorf("expected [left right], got [%s %s]", middle[0].ID, middle[1].ID)
	}
}

func TestParallelGroupsCoverEveryTaskOnce(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "d", DependsOn: []string{"b"}},
		{ID: "e"},
	}

	p := NewLevelProvider()
	groups, err := p.ParallelGroups(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := make(map[string]int)
	for _, g := range groups {
		for _, task := range p.TasksInGroup(tasks, g) {
			seen[task.ID]++
		}
	}

	if len(seen) != len(tasks) {
		t.Errorf("expected %d distinct tasks across groups, got %d", len(tasks), len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("task %s appears %d times, expected exactly once", id, count)
		}
	}
}

func TestParallelGroupsDependenciesInEarlierGroups(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a", "b"}},
	}

	p := NewLevelProvider()
	groups, err := p.ParallelGroups(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	groupOf := make(map[string]int)
	for i, g := range groups {
		for _, task := range p.TasksInGroup(tasks, g) {
			groupOf[task.ID] = i
		}
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if groupOf[depID] >= groupOf[task.ID] {
				t.Errorf("task %s in group %d but dependency %s in group %d",
					task.ID, groupOf[task.ID], depID, groupOf[depID])
			}
		}
	}
}

func TestParallelGroupsCycle(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}

	p := NewLevelProvider()
	_, err := p.ParallelGroups(tasks)
	if !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
}

func TestParallelGroupsUnknownDependency(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a", DependsOn: []string{"missing"}},
	}

	p := NewLevelProvider()
	_, err := p.ParallelGroups(tasks)
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestParallelGroupsDeterministic(t *testing.T) {
	tasks := []*models.Task{
		{ID: "z"},
		{ID: "m", DependsOn: []string{"z"}},
		{ID: "a", DependsOn: []string{"z"}},
	}

	p := NewLevelProvider()
	first, err := p.ParallelGroups(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 10; i++ {
		again, err := p.ParallelGroups(tasks)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("group count changed between runs: %d vs %d", len(again), len(first))
		}
		second := p.TasksInGroup(tasks, again[1])
		if second[0].ID != "a" || second[1].ID != "m" {
			t.Errorf("expected deterministic [a m] ordering, got [%s %s]", second[0].ID, second[1].ID)
		}
	}
}

func TestTasksInGroupUnknownGroup(t *testing.T) {
	tasks := []*models.Task{{ID: "a"}}

	p := NewLevelProvider()
	if got := p.TasksInGroup(tasks, "group-99"); got != nil {
		t.Errorf("expected nil for unknown group, got %v", got)
	}
}

func TestParallelGroupsEmpty(t *testing.T) {
	p := NewLevelProvider()
	groups, err := p.ParallelGroups(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("expected 0 groups for empty task list, got %d", len(groups))
	}
}
