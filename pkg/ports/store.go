package ports

import (
	"context"

	"github.com/loomlab/loom/pkg/domain"
)

// CheckpointStore persists per-instance checkpoints, enabling crash
// recovery and human-in-the-loop continuation. Implementations must
// support get/put keyed by instance id; cross-instance transactions are
// not required. Within one instance, writes are serialized by the
// execution loop.
type CheckpointStore interface {
	// Put persists the checkpoint for its instance id, replacing any
	// previous one.
	Put(ctx context.Context, cp *domain.Checkpoint) error

	// Get retrieves the most recent checkpoint for an instance.
	// Returns domain.ErrInstanceNotFound if none exists.
	Get(ctx context.Context, instanceID string) (*domain.Checkpoint, error)

	// Delete removes the checkpoint for an instance.
	Delete(ctx context.Context, instanceID string) error

	// List returns the instance ids with a stored checkpoint.
	List(ctx context.Context) ([]string, error)
}
