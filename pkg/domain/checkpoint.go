package domain

import "time"

// Checkpoint is a per-instance snapshot captured after every completed
// step, never mid-step, so resumption never re-executes a node whose
// outputs were already merged.
type Checkpoint struct {
	InstanceID  string         `json:"instance_id"`
	Values      map[string]any `json:"values"`
	CurrentNode string         `json:"current_node"`
	// Step is a monotonic counter of completed node executions.
	Step   int64  `json:"step"`
	Status Status `json:"status"`
	// Trail lists the nodes executed so far, in order.
	Trail     []string  `json:"trail,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
