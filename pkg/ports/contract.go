package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlab/loom/pkg/domain"
)

// RunCheckpointStoreContract runs a suite of tests verifying that a
// CheckpointStore implementation adheres to the interface contract.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	instanceID := "contract-test-" + time.Now().Format("20060102150405")

	newCheckpoint := func(id string, step int64) *domain.Checkpoint {
		return &domain.Checkpoint{
			InstanceID:  id,
			CurrentNode: "collect",
			Step:        step,
			Status:      domain.StatusRunning,
			Values: map[string]any{
				"answer":      "bar",
				"retry_count": float64(2),
			},
			UpdatedAt: time.Now().UTC(),
		}
	}

	t.Run("Put and Get", func(t *testing.T) {
		cp := newCheckpoint(instanceID, 3)
		require.NoError(t, store.Put(ctx, cp))

		loaded, err := store.Get(ctx, instanceID)
		require.NoError(t, err)
		assert.Equal(t, cp.CurrentNode, loaded.CurrentNode)
		assert.Equal(t, cp.Step, loaded.Step)
		assert.Equal(t, cp.Status, loaded.Status)
		assert.Equal(t, "bar", loaded.Values["answer"])
		// JSON-backed stores may decode numbers as float64; only presence
		// and numeric equality are part of the contract.
		assert.EqualValues(t, 2, loaded.Values["retry_count"])
	})

	t.Run("Put Replaces", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, newCheckpoint(instanceID, 4)))
		require.NoError(t, store.Put(ctx, newCheckpoint(instanceID, 5)))

		loaded, err := store.Get(ctx, instanceID)
		require.NoError(t, err)
		assert.EqualValues(t, 5, loaded.Step)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent-"+instanceID)
		assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	})

	t.Run("Get Is Isolated", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, newCheckpoint(instanceID, 6)))

		first, err := store.Get(ctx, instanceID)
		require.NoError(t, err)
		first.Values["answer"] = "tampered"

		second, err := store.Get(ctx, instanceID)
		require.NoError(t, err)
		assert.Equal(t, "bar", second.Values["answer"])
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, newCheckpoint(instanceID, 7)))
		require.NoError(t, store.Delete(ctx, instanceID))

		_, err := store.Get(ctx, instanceID)
		assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	})

	t.Run("List", func(t *testing.T) {
		id1 := instanceID + "-1"
		id2 := instanceID + "-2"
		require.NoError(t, store.Put(ctx, newCheckpoint(id1, 1)))
		require.NoError(t, store.Put(ctx, newCheckpoint(id2, 1)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
