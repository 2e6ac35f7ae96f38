package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/chat-gateway/internal/model"
	"github.com/threadline-ai/chat-gateway/internal/store"
	"github.com/threadline-ai/chat-gateway/pkg/logger"
)

// fakeLocator records every write so tests can assert a reconcile settles
// instead of ping-ponging.
type fakeLocator struct {
	value     string
	present   bool
	redirects []string
	clears    int
}

func (l *fakeLocator) Current() (string, bool) { return l.value, l.present }

func (l *fakeLocator) Redirect(id string) {
	l.value = id
	l.present = true
	l.redirects = append(l.redirects, id)
}

func (l *fakeLocator) Clear() {
	l.value = ""
	l.present = false
	l.clears++
}

func newSyncFixture(t *testing.T) (*Synchronizer, *store.Manager) {
	t.Helper()
	stores := store.NewManager(store.NewMemoryRepository(), logger.NewNop())
	return NewSynchronizer(stores), stores
}

func seedThreads(t *testing.T, stores *store.Manager, ownerID string, ids ...string) {
	t.Helper()
	base := time.Now().Add(-time.Duration(len(ids)) * time.Hour)
	threads := make([]model.Thread, 0, len(ids))
	// Later ids are more recent.
	for i, id := range ids {
		ts := base.Add(time.Duration(i) * time.Hour)
		threads = append(threads, model.Thread{
			ID: id, Title: id, CreatedAt: ts, UpdatedAt: ts,
		})
	}
	st, err := stores.ForOwner(context.Background(), ownerID)
	require.NoError(t, err)
	st.Replace(threads)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("locator naming existing thread wins", func(t *testing.T) {
		sync, stores := newSyncFixture(t)
		seedThreads(t, stores, "owner-1", "old", "new")

		loc := &fakeLocator{value: "old", present: true}
		id, err := sync.Reconcile(ctx, "owner-1", loc)
		require.NoError(t, err)

		assert.Equal(t, "old", id)
		assert.Empty(t, loc.redirects)

		st, _ := stores.ForOwner(ctx, "owner-1")
		assert.Equal(t, "old", st.CurrentThreadID())
	})

	t.Run("dangling locator redirects to most recent exactly once", func(t *testing.T) {
		sync, stores := newSyncFixture(t)
		seedThreads(t, stores, "owner-1", "old", "new")

		loc := &fakeLocator{value: "deleted-thread", present: true}
		id, err := sync.Reconcile(ctx, "owner-1", loc)
		require.NoError(t, err)

		assert.Equal(t, "new", id)
		assert.Equal(t, []string{"new"}, loc.redirects)

		// Reconciling again with unchanged inputs settles: no further
		// redirects, no selection churn.
		id, err = sync.Reconcile(ctx, "owner-1", loc)
		require.NoError(t, err)
		assert.Equal(t, "new", id)
		assert.Equal(t, []string{"new"}, loc.redirects)
	})

	t.Run("dangling locator over empty collection clears", func(t *testing.T) {
		sync, _ := newSyncFixture(t)

		loc := &fakeLocator{value: "ghost", present: true}
		id, err := sync.Reconcile(ctx, "owner-1", loc)
		require.NoError(t, err)

		assert.Empty(t, id)
		assert.Equal(t, 1, loc.clears)
		assert.Empty(t, loc.redirects)
	})

	t.Run("absent locator adopts most recent thread", func(t *testing.T) {
		sync, stores := newSyncFixture(t)
		seedThreads(t, stores, "owner-1", "old", "new")

		loc := &fakeLocator{}
		id, err := sync.Reconcile(ctx, "owner-1", loc)
		require.NoError(t, err)

		assert.Equal(t, "new", id)
		assert.Equal(t, []string{"new"}, loc.redirects)
	})

	t.Run("absent locator over empty collection is terminal", func(t *testing.T) {
		sync, _ := newSyncFixture(t)

		loc := &fakeLocator{}
		id, err := sync.Reconcile(ctx, "owner-1", loc)
		require.NoError(t, err)

		assert.Empty(t, id)
		assert.Empty(t, loc.redirects)
		assert.Zero(t, loc.clears)
	})

	t.Run("owners reconcile independently", func(t *testing.T) {
		sync, stores := newSyncFixture(t)
		seedThreads(t, stores, "owner-1", "a")
		seedThreads(t, stores, "owner-2", "b")

		idA, err := sync.Reconcile(ctx, "owner-1", &fakeLocator{})
		require.NoError(t, err)
		idB, err := sync.Reconcile(ctx, "owner-2", &fakeLocator{})
		require.NoError(t, err)

		assert.Equal(t, "a", idA)
		assert.Equal(t, "b", idB)
	})
}

func TestPropagateSelection(t *testing.T) {
	ctx := context.Background()
	sync, stores := newSyncFixture(t)
	seedThreads(t, stores, "owner-1", "old", "new")

	loc := &fakeLocator{}
	_, err := sync.Reconcile(ctx, "owner-1", loc)
	require.NoError(t, err)
	require.Equal(t, []string{"new"}, loc.redirects)

	// The user picks a different thread in a list.
	st, _ := stores.ForOwner(ctx, "owner-1")
	st.SetCurrentThread("old")

	require.NoError(t, sync.PropagateSelection(ctx, "owner-1", loc))
	assert.Equal(t, []string{"new", "old"}, loc.redirects)

	// Propagating the same selection again does nothing, and neither does a
	// follow-up reconcile: the loop stops after one hop in each direction.
	require.NoError(t, sync.PropagateSelection(ctx, "owner-1", loc))
	assert.Equal(t, []string{"new", "old"}, loc.redirects)

	id, err := sync.Reconcile(ctx, "owner-1", loc)
	require.NoError(t, err)
	assert.Equal(t, "old", id)
	assert.Equal(t, []string{"new", "old"}, loc.redirects)
}
