package domain

// Status is the lifecycle state of a workflow instance.
type Status string

const (
	// StatusRunning means the execution loop is advancing through nodes.
	StatusRunning Status = "running"
	// StatusAwaitingInput means the loop is suspended before a node that
	// requires external input; Resume continues it.
	StatusAwaitingInput Status = "awaiting_input"
	// StatusCompleted means the instance reached END or an exit command.
	StatusCompleted Status = "completed"
	// StatusFailed means a fatal error terminated the instance. Its last
	// checkpoint and error detail stay queryable.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further steps.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepResult is returned by the caller-facing API after every run segment.
type StepResult struct {
	InstanceID string `json:"instance_id"`
	Status     Status `json:"status"`
	// Step is the number of completed node executions so far.
	Step int64 `json:"step"`
	// AwaitingNode names the node waiting for input when Status is
	// StatusAwaitingInput, empty otherwise.
	AwaitingNode string `json:"awaiting_node,omitempty"`
	// State is a snapshot of the instance state after the last merged step.
	State map[string]any `json:"state"`
	// Error carries the failure detail when Status is StatusFailed.
	Error string `json:"error,omitempty"`
}
