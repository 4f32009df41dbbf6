// Package file provides a filesystem checkpoint store: one JSON file per
// workflow instance, enabling crash recovery without external services.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loomlab/loom/pkg/domain"
)

// Store implements ports.CheckpointStore on the local filesystem.
type Store struct {
	BasePath string
}

// NewStore creates a file store rooted at basePath.
// If basePath is empty, it defaults to ".loom/checkpoints".
func NewStore(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".loom", "checkpoints")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(instanceID string) string {
	return filepath.Join(s.BasePath, instanceID+".json")
}

// Put writes the checkpoint to its instance file. The write goes through
// a temp file and rename so a crash never leaves a torn checkpoint.
func (s *Store) Put(ctx context.Context, cp *domain.Checkpoint) error {
	if cp.InstanceID == "" {
		return fmt.Errorf("checkpoint instance id cannot be empty")
	}

	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to ensure checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.BasePath, cp.InstanceID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, s.path(cp.InstanceID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// Get reads the checkpoint for an instance.
func (s *Store) Get(ctx context.Context, instanceID string) (*domain.Checkpoint, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instance id cannot be empty")
	}

	data, err := os.ReadFile(s.path(instanceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes the checkpoint file. Deleting a missing instance is not
// an error.
func (s *Store) Delete(ctx context.Context, instanceID string) error {
	if instanceID == "" {
		return fmt.Errorf("instance id cannot be empty")
	}

	err := os.Remove(s.path(instanceID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns the instance ids with a checkpoint file.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
