package instance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlab/loom/pkg/adapters/memory"
	"github.com/loomlab/loom/pkg/domain"
	"github.com/loomlab/loom/pkg/instance"
)

func TestManager_WithLockSerializes(t *testing.T) {
	m := instance.NewManager(memory.NewStore())
	ctx := context.Background()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(ctx, "contended", func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "critical sections for one id must not overlap")
}

func TestManager_IndependentIDsDoNotBlock(t *testing.T) {
	m := instance.NewManager(memory.NewStore())
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})

	go func() {
		_ = m.WithLock(ctx, "held", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	done := make(chan struct{})
	go func() {
		_ = m.WithLock(ctx, "other", func(ctx context.Context) error {
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("independent instance blocked on an unrelated lock")
	}
	close(release)
}

func TestManager_CheckpointAndDelete(t *testing.T) {
	store := memory.NewStore()
	m := instance.NewManager(store)
	ctx := context.Background()

	_, err := m.Checkpoint(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)

	ok, err := m.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, &domain.Checkpoint{
		InstanceID:  "inst-1",
		Values:      map[string]any{"k": "v"},
		CurrentNode: "collect",
		Status:      domain.StatusAwaitingInput,
	}))

	cp, err := m.Checkpoint(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "collect", cp.CurrentNode)

	ok, err = m.Exists(ctx, "inst-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := m.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "inst-1")

	require.NoError(t, m.Delete(ctx, "inst-1"))
	_, err = m.Checkpoint(ctx, "inst-1")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}
