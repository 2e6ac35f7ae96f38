package store

import (
	"context"

	"github.com/threadline-ai/chat-gateway/internal/model"
)

// Repository is the durable persistence boundary for thread collections.
// Any key-value store suffices: the unit of persistence is one owner's
// entire serialized thread list, overwritten on every save.
type Repository interface {
	// Load returns the persisted threads for an owner, or an empty slice
	// when the owner has none.
	Load(ctx context.Context, ownerID string) ([]model.Thread, error)

	// Save persists the given threads for an owner, overwriting prior
	// content.
	Save(ctx context.Context, ownerID string, threads []model.Thread) error

	// Ping reports backend reachability for readiness checks.
	Ping(ctx context.Context) error

	// Name identifies the backend in logs and metrics.
	Name() string
}
