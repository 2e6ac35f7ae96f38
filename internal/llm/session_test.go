package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionTerminalCallbacksAreExclusive(t *testing.T) {
	var completes, failures int
	sess := newStreamSession(StreamCallbacks{
		OnComplete: func() { completes++ },
		OnError:    func(err error) { failures++ },
	}, func() {})

	sess.complete()
	sess.complete()
	sess.fail(errors.New("late transport error"))

	assert.Equal(t, 1, completes)
	assert.Zero(t, failures)
}

func TestSessionFragmentsDiscardedAfterTerminalState(t *testing.T) {
	var chunks []string
	sess := newStreamSession(StreamCallbacks{
		OnChunk: func(accumulated string) { chunks = append(chunks, accumulated) },
	}, func() {})

	sess.appendFragment("one")
	sess.appendFragment(" two")
	sess.complete()
	sess.appendFragment(" three")

	assert.Equal(t, []string{"one", "one two"}, chunks)
	assert.Equal(t, "one two", sess.accumulated())
}

func TestSessionAbortSuppressesCallbacks(t *testing.T) {
	var completes, failures int
	cancelled := false
	sess := newStreamSession(StreamCallbacks{
		OnComplete: func() { completes++ },
		OnError:    func(err error) { failures++ },
	}, func() { cancelled = true })

	sess.appendFragment("partial")
	sess.Abort()
	sess.Abort()

	assert.True(t, cancelled)

	// Late transport outcomes after an abort stay silent.
	sess.complete()
	sess.fail(errors.New("connection reset"))
	sess.appendFragment(" more")

	assert.Zero(t, completes)
	assert.Zero(t, failures)
	assert.Equal(t, "partial", sess.accumulated())
}

func TestSessionEmptyFragmentsIgnored(t *testing.T) {
	var calls int
	sess := newStreamSession(StreamCallbacks{
		OnChunk: func(string) { calls++ },
	}, func() {})

	sess.appendFragment("")
	assert.Zero(t, calls)
	assert.Empty(t, sess.accumulated())
}
