package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/chat-gateway/internal/llm"
	"github.com/threadline-ai/chat-gateway/internal/model"
	"github.com/threadline-ai/chat-gateway/internal/store"
	"github.com/threadline-ai/chat-gateway/pkg/logger"
)

type fakeHandle struct {
	once    sync.Once
	aborted chan struct{}
}

func (h *fakeHandle) Abort() {
	h.once.Do(func() { close(h.aborted) })
}

// fakeLLM scripts stream behavior per test. The script receives the
// callbacks and the handle's abort channel and runs on its own goroutine,
// like a real transport.
type fakeLLM struct {
	mu       sync.Mutex
	requests []*llm.CompletionRequest

	script       func(cb llm.StreamCallbacks, aborted <-chan struct{})
	completeResp *llm.CompletionResponse
	completeErr  error
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.record(req)
	return f.completeResp, f.completeErr
}

func (f *fakeLLM) Stream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallbacks) llm.StreamHandle {
	f.record(req)
	h := &fakeHandle{aborted: make(chan struct{})}
	go f.script(cb, h.aborted)
	return h
}

func (f *fakeLLM) Name() string     { return "fake" }
func (f *fakeLLM) Models() []string { return []string{"fake-model"} }

func (f *fakeLLM) record(req *llm.CompletionRequest) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
}

func (f *fakeLLM) lastRequest() *llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func newTestService(t *testing.T, client llm.Client) (*ChatService, *store.Manager, *store.MemoryRepository) {
	t.Helper()
	repo := store.NewMemoryRepository()
	stores := store.NewManager(repo, logger.NewNop())
	svc := NewChatService(stores, client, "fake-model", 1024, logger.NewNop())
	return svc, stores, repo
}

func seedOwnerThread(t *testing.T, stores *store.Manager, ownerID string) string {
	t.Helper()
	st, err := stores.ForOwner(context.Background(), ownerID)
	require.NoError(t, err)
	return st.CreateThread("seeded")
}

func TestSendMessageSuccess(t *testing.T) {
	fake := &fakeLLM{
		script: func(cb llm.StreamCallbacks, aborted <-chan struct{}) {
			cb.OnChunk("The answer")
			cb.OnChunk("The answer is 42.")
			cb.OnComplete()
		},
	}
	svc, stores, repo := newTestService(t, fake)
	threadID := seedOwnerThread(t, stores, "owner-1")

	var observed []string
	obs := StreamObserver{
		OnChunk: func(_, _, accumulated string) { observed = append(observed, accumulated) },
	}

	result, err := svc.SendMessage(context.Background(), "owner-1", threadID, "what is the answer?", "", obs)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.False(t, result.Aborted)
	assert.Equal(t, threadID, result.ThreadID)
	assert.Equal(t, model.RoleUser, result.UserMessage.Role)
	assert.Equal(t, "what is the answer?", result.UserMessage.Content)
	assert.Equal(t, model.RoleAssistant, result.AssistantMessage.Role)
	assert.Equal(t, "The answer is 42.", result.AssistantMessage.Content)

	assert.Equal(t, []string{"The answer", "The answer is 42."}, observed)

	// Success persists the thread.
	persisted, err := repo.Load(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	require.Len(t, persisted[0].Messages, 2)

	// The flight slot is free again.
	assert.False(t, svc.Streaming("owner-1"))
}

func TestSendMessageResolvesCurrentThread(t *testing.T) {
	fake := &fakeLLM{
		script: func(cb llm.StreamCallbacks, aborted <-chan struct{}) {
			cb.OnChunk("ok")
			cb.OnComplete()
		},
	}
	svc, stores, _ := newTestService(t, fake)
	threadID := seedOwnerThread(t, stores, "owner-1")

	// Empty thread id targets the current selection.
	result, err := svc.SendMessage(context.Background(), "owner-1", "", "hello", "", StreamObserver{})
	require.NoError(t, err)
	assert.Equal(t, threadID, result.ThreadID)
}

func TestSendMessageValidation(t *testing.T) {
	fake := &fakeLLM{
		script: func(cb llm.StreamCallbacks, aborted <-chan struct{}) {
			t.Error("stream must not start for a rejected send")
		},
	}
	svc, stores, _ := newTestService(t, fake)

	tests := []struct {
		name     string
		ownerID  string
		threadID string
		content  string
		wantErr  error
	}{
		{"missing owner", "", "", "hi", ErrNoOwner},
		{"empty content", "owner-1", "", "", ErrEmptyMessage},
		{"whitespace content", "owner-1", "", "   \n\t ", ErrEmptyMessage},
		{"no thread exists", "owner-1", "", "hi", ErrNoThread},
		{"unknown thread", "owner-2", "0190fa00-0000-7000-8000-000000000000", "hi", ErrThreadNotFound},
	}

	// owner-2 has a thread, so only the unknown id rejects.
	seedOwnerThread(t, stores, "owner-2")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.SendMessage(context.Background(), tt.ownerID, tt.threadID, tt.content, "", StreamObserver{})
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}

	// Rejected sends leave no messages behind.
	st, err := stores.ForOwner(context.Background(), "owner-2")
	require.NoError(t, err)
	for _, thread := range st.Threads() {
		assert.Empty(t, thread.Messages)
	}
}

func TestSendMessageSingleFlightPerOwner(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fake := &fakeLLM{
		script: func(cb llm.StreamCallbacks, aborted <-chan struct{}) {
			close(started)
			<-release
			cb.OnComplete()
		},
	}
	svc, stores, _ := newTestService(t, fake)
	threadID := seedOwnerThread(t, stores, "owner-1")

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(context.Background(), "owner-1", threadID, "first", "", StreamObserver{})
		firstDone <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first stream never started")
	}
	assert.True(t, svc.Streaming("owner-1"))

	// A second send for the same owner is rejected while the first runs.
	_, err := svc.SendMessage(context.Background(), "owner-1", threadID, "second", "", StreamObserver{})
	assert.ErrorIs(t, err, ErrStreamInFlight)

	close(release)
	require.NoError(t, <-firstDone)
	assert.False(t, svc.Streaming("owner-1"))
}

func TestSendMessageTransportError(t *testing.T) {
	fake := &fakeLLM{
		script: func(cb llm.StreamCallbacks, aborted <-chan struct{}) {
			cb.OnError(errors.New("connection reset"))
		},
	}
	svc, stores, repo := newTestService(t, fake)
	threadID := seedOwnerThread(t, stores, "owner-1")

	result, err := svc.SendMessage(context.Background(), "owner-1", threadID, "hello", "", StreamObserver{})
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))

	// The user message survives; the empty placeholder does not.
	st, err := stores.ForOwner(context.Background(), "owner-1")
	require.NoError(t, err)
	thread := st.Thread(threadID)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, model.RoleUser, thread.Messages[0].Role)

	// Nothing is persisted on failure.
	persisted, err := repo.Load(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestSendMessageAbortKeepsPartialText(t *testing.T) {
	chunkSent := make(chan struct{})
	fake := &fakeLLM{
		script: func(cb llm.StreamCallbacks, aborted <-chan struct{}) {
			cb.OnChunk("partial answer")
			close(chunkSent)
			// An aborted stream fires no terminal callback.
			<-aborted
		},
	}
	svc, stores, repo := newTestService(t, fake)
	threadID := seedOwnerThread(t, stores, "owner-1")

	go func() {
		<-chunkSent
		svc.Abort("owner-1")
	}()

	result, err := svc.SendMessage(context.Background(), "owner-1", threadID, "hello", "", StreamObserver{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Aborted)
	assert.Equal(t, "partial answer", result.AssistantMessage.Content)

	// Partial text stays in memory but is not persisted.
	st, err := stores.ForOwner(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, st.Thread(threadID).Messages, 2)

	persisted, err := repo.Load(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestSendMessageAbortBeforeAnyText(t *testing.T) {
	streamStarted := make(chan struct{})
	fake := &fakeLLM{
		script: func(cb llm.StreamCallbacks, aborted <-chan struct{}) {
			close(streamStarted)
			<-aborted
		},
	}
	svc, stores, _ := newTestService(t, fake)
	threadID := seedOwnerThread(t, stores, "owner-1")

	go func() {
		<-streamStarted
		svc.Abort("owner-1")
	}()

	result, err := svc.SendMessage(context.Background(), "owner-1", threadID, "hello", "", StreamObserver{})
	require.NoError(t, err)
	assert.True(t, result.Aborted)

	// An untouched placeholder is discarded; only the user message remains.
	st, err := stores.ForOwner(context.Background(), "owner-1")
	require.NoError(t, err)
	thread := st.Thread(threadID)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, model.RoleUser, thread.Messages[0].Role)
}

func TestAbortWithoutStream(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeLLM{})
	assert.False(t, svc.Abort("owner-1"))
}

func TestOutboundContextExcludesEmptyPlaceholders(t *testing.T) {
	fake := &fakeLLM{
		script: func(cb llm.StreamCallbacks, aborted <-chan struct{}) {
			cb.OnChunk("reply")
			cb.OnComplete()
		},
	}
	svc, stores, _ := newTestService(t, fake)

	st, err := stores.ForOwner(context.Background(), "owner-1")
	require.NoError(t, err)
	threadID := st.CreateThread("history")
	st.AddMessage(threadID, model.RoleUser, "earlier question", "")
	st.AddMessage(threadID, model.RoleAssistant, "earlier answer", "")
	// A dangling placeholder from an interrupted stream.
	st.AddMessage(threadID, model.RoleAssistant, "", "dangling")

	_, err = svc.SendMessage(context.Background(), "owner-1", threadID, "new question", "", StreamObserver{})
	require.NoError(t, err)

	req := fake.lastRequest()
	require.NotNil(t, req)

	roles := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		assert.NotEmpty(t, m.Content, "empty assistant content must never go out")
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"user", "assistant", "user"}, roles)
	assert.Equal(t, "new question", req.Messages[len(req.Messages)-1].Content)
}

func TestSendBlocking(t *testing.T) {
	fake := &fakeLLM{
		completeResp: &llm.CompletionResponse{Content: "full reply", Model: "fake-model"},
	}
	svc, stores, repo := newTestService(t, fake)
	threadID := seedOwnerThread(t, stores, "owner-1")

	result, err := svc.SendBlocking(context.Background(), "owner-1", threadID, "hello", "")
	require.NoError(t, err)
	assert.Equal(t, "full reply", result.AssistantMessage.Content)

	persisted, err := repo.Load(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Len(t, persisted[0].Messages, 2)
}

func TestSendBlockingProviderError(t *testing.T) {
	fake := &fakeLLM{completeErr: errors.New("model overloaded")}
	svc, stores, _ := newTestService(t, fake)
	threadID := seedOwnerThread(t, stores, "owner-1")

	_, err := svc.SendBlocking(context.Background(), "owner-1", threadID, "hello", "")
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
}
