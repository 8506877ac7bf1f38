package models

import "time"

// Task represents a unit of work in the system.
// The orchestrator treats tasks as opaque except for their ID and, via the
// graph provider, their dependency edges. Tasks are immutable once submitted.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Title is the short description of the task.
	Title string `json:"title" yaml:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}
