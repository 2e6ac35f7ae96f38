package service

import (
	"context"
	"sync"

	"github.com/threadline-ai/chat-gateway/internal/store"
)

// ThreadLocator is the externally-addressable "current thread" signal: a
// route query parameter, hash fragment, or whatever shareable location the
// host application uses. The synchronizer treats it purely as an optional
// string with read/write access.
type ThreadLocator interface {
	// Current returns the locator value and whether one is present.
	Current() (string, bool)

	// Redirect points the locator at the given thread id.
	Redirect(id string)

	// Clear removes the locator value.
	Clear()
}

// Synchronizer reconciles the external locator against the store's
// selection, choosing deterministically when the two disagree. The
// last-applied value per owner is what makes reconciliation idempotent:
// repeated invocation with unchanged inputs produces no further redirects
// or selection changes.
type Synchronizer struct {
	stores *store.Manager

	mu          sync.Mutex
	lastApplied map[string]string
}

// NewSynchronizer creates a synchronizer over the given store manager.
func NewSynchronizer(stores *store.Manager) *Synchronizer {
	return &Synchronizer{
		stores:      stores,
		lastApplied: make(map[string]string),
	}
}

// Reconcile resolves the owner's selection against the locator and returns
// the selected thread id, or "" when no thread exists. That is a valid terminal
// state, the caller shows its empty-state affordance.
//
// A locator naming an existing thread selects it. A dangling locator
// redirects to the most-recently-updated thread, or is cleared when the
// collection is empty. No locator plus a non-empty collection adopts the
// most recent thread.
func (s *Synchronizer) Reconcile(ctx context.Context, ownerID string, loc ThreadLocator) (string, error) {
	st, err := s.stores.ForOwner(ctx, ownerID)
	if err != nil {
		return "", persistenceError(err)
	}

	id, present := loc.Current()
	if present {
		if st.HasThread(id) {
			s.apply(ownerID, st, id)
			return id, nil
		}

		if st.ThreadCount() == 0 {
			loc.Clear()
			s.apply(ownerID, st, "")
			return "", nil
		}

		target := st.MostRecentThreadID()
		if target != id {
			loc.Redirect(target)
		}
		s.apply(ownerID, st, target)
		return target, nil
	}

	if st.ThreadCount() > 0 {
		target := st.MostRecentThreadID()
		loc.Redirect(target)
		s.apply(ownerID, st, target)
		return target, nil
	}

	s.setLast(ownerID, "")
	return "", nil
}

// PropagateSelection pushes a store-originated selection change (the user
// picked a different thread in a list) outward to the locator. One
// direction only; the next Reconcile sees the locator already matching and
// does nothing, which is the loop prevention.
func (s *Synchronizer) PropagateSelection(ctx context.Context, ownerID string, loc ThreadLocator) error {
	st, err := s.stores.ForOwner(ctx, ownerID)
	if err != nil {
		return persistenceError(err)
	}

	current := st.CurrentThreadID()
	if current == "" {
		return nil
	}

	s.mu.Lock()
	changed := s.lastApplied[ownerID] != current
	if changed {
		s.lastApplied[ownerID] = current
	}
	s.mu.Unlock()

	if changed {
		loc.Redirect(current)
	}
	return nil
}

// apply updates the store selection only when it differs from the last
// applied value, so reconciliation never ping-pongs.
func (s *Synchronizer) apply(ownerID string, st *store.Store, id string) {
	s.mu.Lock()
	changed := s.lastApplied[ownerID] != id
	if changed {
		s.lastApplied[ownerID] = id
	}
	s.mu.Unlock()

	if changed {
		st.SetCurrentThread(id)
	}
}

func (s *Synchronizer) setLast(ownerID, id string) {
	s.mu.Lock()
	s.lastApplied[ownerID] = id
	s.mu.Unlock()
}
