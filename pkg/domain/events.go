package domain

import (
	"context"
	"time"
)

// EventType defines the category of a lifecycle event.
type EventType string

const (
	EventNodeStart  EventType = "node_start"
	EventNodeFinish EventType = "node_finish"
	EventNodeRetry  EventType = "node_retry"
	EventInterrupt  EventType = "interrupt"
	EventCheckpoint EventType = "checkpoint"
)

// NodeEvent describes one lifecycle occurrence inside the execution loop.
type NodeEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	InstanceID string    `json:"instance_id"`
	Node       string    `json:"node"`
	Kind       NodeKind  `json:"kind,omitempty"`
	Step       int64     `json:"step"`
	Attempt    int       `json:"attempt,omitempty"`
	Err        string    `json:"err,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability. Nil hooks
// are skipped.
type LifecycleHooks struct {
	OnNodeStart  func(context.Context, *NodeEvent)
	OnNodeFinish func(context.Context, *NodeEvent)
	OnNodeRetry  func(context.Context, *NodeEvent)
	OnInterrupt  func(context.Context, *NodeEvent)
	OnCheckpoint func(context.Context, *NodeEvent)
}
