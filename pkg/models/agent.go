// Package models holds the task and agent types shared across baton.
package models

// AgentStatus represents the current state of an agent attempt.
type AgentStatus string

const (
	// AgentStatusPending indicates the agent has been created but not started.
	AgentStatusPending AgentStatus = "pending"
	// AgentStatusRunning indicates the agent is executing its task.
	AgentStatusRunning AgentStatus = "running"
	// AgentStatusDone indicates the agent finished successfully.
	AgentStatusDone AgentStatus = "done"
	// AgentStatusFailed indicates the agent failed.
	AgentStatusFailed AgentStatus = "failed"
	// AgentStatusStopped indicates the agent was forcibly stopped.
	AgentStatusStopped AgentStatus = "stopped"
)
