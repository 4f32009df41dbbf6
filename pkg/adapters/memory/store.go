// Package memory provides an in-memory checkpoint store for ephemeral
// runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loomlab/loom/pkg/domain"
)

// Store implements ports.CheckpointStore in memory.
// Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string]*domain.Checkpoint
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Checkpoint),
	}
}

// Put persists a deep copy of the checkpoint.
func (s *Store) Put(ctx context.Context, cp *domain.Checkpoint) error {
	if cp.InstanceID == "" {
		return fmt.Errorf("checkpoint instance id cannot be empty")
	}

	copied, err := clone(cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cp.InstanceID] = copied
	return nil
}

// Get retrieves a copy of the stored checkpoint.
func (s *Store) Get(ctx context.Context, instanceID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	cp, ok := s.data[instanceID]
	s.mu.RUnlock()

	if !ok {
		return nil, domain.ErrInstanceNotFound
	}
	return clone(cp)
}

// Delete removes the checkpoint.
func (s *Store) Delete(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, instanceID)
	return nil
}

// List returns the ids of stored checkpoints.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

// clone round-trips through JSON so stored and returned checkpoints never
// alias caller-held maps, matching the behavior of durable backends.
func clone(cp *domain.Checkpoint) (*domain.Checkpoint, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to copy checkpoint: %w", err)
	}
	var out domain.Checkpoint
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy checkpoint: %w", err)
	}
	return &out, nil
}
