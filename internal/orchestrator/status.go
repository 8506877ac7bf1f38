package orchestrator

import (
	"math"
	"sort"
	"time"

	"github.com/ShayCichocki/baton/pkg/models"
)

// GroupState describes one group's position in the run.
type GroupState string

const (
	// GroupPending means the group has not started.
	GroupPending GroupState = "pending"
	// GroupExecuting means the group has live agents.
	GroupExecuting GroupState = "executing"
	// GroupCompleted means every task in the group succeeded.
	GroupCompleted GroupState = "completed"
	// GroupFailed means the group finished with unresolved tasks.
	GroupFailed GroupState = "failed"
)

// GroupStatus is the derived status of one group.
type GroupStatus struct {
	GroupID   string
	State     GroupState
	Tasks     int
	Completed int
}

// Status is a consistent snapshot of the whole session, derived on demand.
type Status struct {
	SessionID    string
	State        SessionState
	CurrentGroup int
	TotalGroups  int
	TotalTasks   int
	Completed    int
	Failed       int
	LiveAgents   int
	Progress     int
	Elapsed      time.Duration
	Groups       []GroupStatus
}

// Status derives the full session status from the provider's complete group
// list, so callers always see every group, touched or not.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		SessionID:    o.sessionID,
		State:        o.state,
		CurrentGroup: o.currentGroup,
		TotalGroups:  len(o.groups),
		TotalTasks:   len(o.tasks),
		Completed:    len(o.completed),
		Failed:       o.deadCount(),
		LiveAgents:   len(o.agents),
	}
	if !o.startTime.IsZero() {
		st.Elapsed = time.Since(o.startTime)
	}

	for i, groupID := range o.groups {
		tasks := o.provider.TasksInGroup(o.tasks, groupID)
		done := 0
		for _, task := range tasks {
			if o.completed[task.ID] {
				done++
			}
		}

		gs := GroupStatus{GroupID: groupID, Tasks: len(tasks), Completed: done}
		switch {
		case i < o.currentGroup && done == len(tasks):
			gs.State = GroupCompleted
		case i < o.currentGroup:
			gs.State = GroupFailed
		case i == o.currentGroup && len(o.agents) > 0:
			gs.State = GroupExecuting
		default:
			gs.State = GroupPending
		}
		st.Groups = append(st.Groups, gs)
	}

	if st.TotalTasks == 0 {
		st.Progress = 100
	} else {
		st.Progress = int(math.Round(float64(st.Completed) / float64(st.TotalTasks) * 100))
	}
	return st
}

// GetTask returns the task with the given ID from the original list, or nil.
func (o *Orchestrator) GetTask(id string) *models.Task {
	for _, task := range o.tasks {
		if task.ID == id {
			return task
		}
	}
	return nil
}

// IsTaskCompleted reports whether a task has succeeded.
func (o *Orchestrator) IsTaskCompleted(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completed[id]
}

// IsTaskFailed reports whether a task has exhausted its retries.
func (o *Orchestrator) IsTaskFailed(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.failed[id]
	return ok && f.dead
}

// GetTaskError returns the last recorded error for a task, if any.
func (o *Orchestrator) GetTaskError(id string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if f, ok := o.failed[id]; ok {
		return f.lastError
	}
	return ""
}

// CompletedTaskIDs returns the completed task IDs in sorted order.
func (o *Orchestrator) CompletedTaskIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.completed))
	for id := range o.completed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FailedTaskIDs returns the permanently failed task IDs in sorted order.
func (o *Orchestrator) FailedTaskIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.failed))
	for id, f := range o.failed {
		if f.dead {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
