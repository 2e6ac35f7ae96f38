package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/threadline-ai/chat-gateway/internal/model"
)

// MemoryRepository is an in-process Repository. Collections still round-trip
// through JSON so timestamp serialization behaves exactly like a durable
// backend, which matters for dedup-on-load semantics in tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		data: make(map[string][]byte),
	}
}

// Load implements Repository.
func (r *MemoryRepository) Load(ctx context.Context, ownerID string) ([]model.Thread, error) {
	r.mu.RLock()
	raw, ok := r.data[ownerID]
	r.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	var threads []model.Thread
	if err := json.Unmarshal(raw, &threads); err != nil {
		return nil, fmt.Errorf("failed to decode threads: %w", err)
	}
	return threads, nil
}

// Save implements Repository.
func (r *MemoryRepository) Save(ctx context.Context, ownerID string, threads []model.Thread) error {
	raw, err := json.Marshal(threads)
	if err != nil {
		return fmt.Errorf("failed to encode threads: %w", err)
	}

	r.mu.Lock()
	r.data[ownerID] = raw
	r.mu.Unlock()
	return nil
}

// Ping implements Repository.
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Name implements Repository.
func (r *MemoryRepository) Name() string {
	return "memory"
}
