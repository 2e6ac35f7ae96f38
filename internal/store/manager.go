package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/threadline-ai/chat-gateway/pkg/logger"
	"github.com/threadline-ai/chat-gateway/pkg/metrics"
)

// Manager scopes one Store per owning identity and bridges stores to the
// repository. Loads are lazy; an owner's store is materialized on first use
// and kept authoritative in memory for the life of the process.
type Manager struct {
	repo   Repository
	logger *logger.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a store manager backed by the given repository.
func NewManager(repo Repository, log *logger.Logger) *Manager {
	return &Manager{
		repo:   repo,
		logger: log,
		stores: make(map[string]*Store),
	}
}

// ForOwner returns the owner's store, loading persisted threads on first
// access. Timestamps round-trip through the repository's serialized form;
// messages are deduplicated by id and threads re-sorted by recency as part
// of the load.
func (m *Manager) ForOwner(ctx context.Context, ownerID string) (*Store, error) {
	m.mu.Lock()
	if s, ok := m.stores[ownerID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	threads, err := m.repo.Load(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load threads: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request may have loaded concurrently; first one wins.
	if s, ok := m.stores[ownerID]; ok {
		return s, nil
	}
	s := New(threads)
	m.stores[ownerID] = s
	return s, nil
}

// Loaded reports whether the owner's store has been materialized.
func (m *Manager) Loaded(ownerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stores[ownerID]
	return ok
}

// Save persists the owner's collection. A write failure is non-fatal: the
// in-memory state remains authoritative for the session, so the error is
// logged and counted rather than surfaced to the caller.
func (m *Manager) Save(ctx context.Context, ownerID string) {
	m.mu.Lock()
	s, ok := m.stores[ownerID]
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := m.repo.Save(ctx, ownerID, s.Export()); err != nil {
		m.logger.Errorw("failed to persist threads",
			"owner_id", ownerID,
			"backend", m.repo.Name(),
			"error", err,
		)
		metrics.PersistenceFailures.WithLabelValues(m.repo.Name()).Inc()
	}
}

// Reload discards the owner's in-memory state and re-reads the repository.
func (m *Manager) Reload(ctx context.Context, ownerID string) (*Store, error) {
	threads, err := m.repo.Load(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load threads: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[ownerID]; ok {
		s.Replace(threads)
		return s, nil
	}
	s := New(threads)
	m.stores[ownerID] = s
	return s, nil
}

// Ping reports repository reachability.
func (m *Manager) Ping(ctx context.Context) error {
	return m.repo.Ping(ctx)
}

// Backend returns the repository backend name.
func (m *Manager) Backend() string {
	return m.repo.Name()
}
