// Package instance coordinates access to workflow instances: one mutex
// per instance id in-process, plus an optional distributed lock so no
// two replicas ever step the same instance concurrently.
package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomlab/loom/internal/logging"
	"github.com/loomlab/loom/pkg/domain"
	"github.com/loomlab/loom/pkg/ports"
)

// lockEntry holds the mutex and its reference count. Entries are garbage
// collected when the count drops to zero.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes per-instance operations.
type Manager struct {
	store ports.CheckpointStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides the distributed lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for deferred errors.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an instance manager over a checkpoint store.
func NewManager(store ports.CheckpointStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: 30 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference
// count. The caller must lock entry.mu and pair with release.
func (m *Manager) acquire(instanceID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[instanceID]
	if !exists {
		entry = &lockEntry{}
		m.locks[instanceID] = entry
	}
	entry.refs++
	return entry
}

func (m *Manager) release(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[instanceID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, instanceID)
	}
}

// WithLock executes fn while holding the per-instance lock, and the
// distributed lock when one is configured.
func (m *Manager) WithLock(ctx context.Context, instanceID string, fn func(context.Context) error) error {
	entry := m.acquire(instanceID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(instanceID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, instanceID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"instance_id", instanceID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Checkpoint loads the latest checkpoint for an instance.
func (m *Manager) Checkpoint(ctx context.Context, instanceID string) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := m.WithLock(ctx, instanceID, func(ctx context.Context) error {
		var err error
		cp, err = m.store.Get(ctx, instanceID)
		return err
	})
	return cp, err
}

// Exists reports whether an instance has a checkpoint.
func (m *Manager) Exists(ctx context.Context, instanceID string) (bool, error) {
	_, err := m.store.Get(ctx, instanceID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrInstanceNotFound) {
		return false, nil
	}
	return false, err
}

// Delete removes an instance's checkpoint.
func (m *Manager) Delete(ctx context.Context, instanceID string) error {
	return m.WithLock(ctx, instanceID, func(ctx context.Context) error {
		return m.store.Delete(ctx, instanceID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying checkpoint store.
func (m *Manager) Store() ports.CheckpointStore {
	return m.store
}
