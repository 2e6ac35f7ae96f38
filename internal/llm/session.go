package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/threadline-ai/chat-gateway/pkg/metrics"
)

// sessionState tracks one stream's lifecycle. There is no way back to
// streaming; a new send creates a new session.
type sessionState int

const (
	stateStreaming sessionState = iota
	stateCompleted
	stateErrored
	stateAborted
)

// streamSession owns one stream's accumulation buffer, cancellation handle
// and outcome. It guarantees the callback contract: chunk delivery stops the
// moment the session leaves the streaming state, and the terminal callbacks
// are mutually exclusive and fire at most once.
type streamSession struct {
	mu     sync.Mutex
	state  sessionState
	buf    strings.Builder
	cancel context.CancelFunc
	cb     StreamCallbacks
}

func newStreamSession(cb StreamCallbacks, cancel context.CancelFunc) *streamSession {
	return &streamSession{
		state:  stateStreaming,
		cancel: cancel,
		cb:     cb,
	}
}

// appendFragment adds an incremental text fragment to the buffer and
// delivers the accumulated whole. Fragments arriving after the session left
// the streaming state are discarded.
func (s *streamSession) appendFragment(frag string) {
	if frag == "" {
		return
	}

	s.mu.Lock()
	if s.state != stateStreaming {
		s.mu.Unlock()
		return
	}
	s.buf.WriteString(frag)
	accumulated := s.buf.String()
	onChunk := s.cb.OnChunk
	s.mu.Unlock()

	if onChunk != nil {
		onChunk(accumulated)
	}
}

// complete marks normal end-of-stream and fires OnComplete once.
func (s *streamSession) complete() {
	s.mu.Lock()
	if s.state != stateStreaming {
		s.mu.Unlock()
		return
	}
	s.state = stateCompleted
	onComplete := s.cb.OnComplete
	s.mu.Unlock()

	if onComplete != nil {
		onComplete()
	}
}

// fail marks a transport failure and fires OnError once. A session already
// aborted stays silent: cancellation is not an error.
func (s *streamSession) fail(err error) {
	s.mu.Lock()
	if s.state != stateStreaming {
		s.mu.Unlock()
		return
	}
	s.state = stateErrored
	onError := s.cb.OnError
	s.mu.Unlock()

	if onError != nil {
		onError(err)
	}
}

// Abort cancels the stream. Idempotent; no-op once the session has finished.
// Neither OnComplete nor OnError fires for an aborted session, and events
// still in flight at the transport layer are discarded.
func (s *streamSession) Abort() {
	s.mu.Lock()
	if s.state != stateStreaming {
		s.mu.Unlock()
		return
	}
	s.state = stateAborted
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	metrics.StreamsAborted.Inc()
}

// markCanceled transitions to aborted without touching the cancel func.
// Used when the caller's context was cancelled out from under the stream,
// which counts as cancellation, never as a transport error.
func (s *streamSession) markCanceled() {
	s.mu.Lock()
	if s.state == stateStreaming {
		s.state = stateAborted
	}
	s.mu.Unlock()
}

// accumulated returns the full text received so far.
func (s *streamSession) accumulated() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
