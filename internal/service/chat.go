// Package service provides the conversation orchestration layer: the chat
// controller driving send/receive cycles and the thread selection
// synchronizer.
package service

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/threadline-ai/chat-gateway/internal/llm"
	"github.com/threadline-ai/chat-gateway/internal/model"
	"github.com/threadline-ai/chat-gateway/internal/store"
	"github.com/threadline-ai/chat-gateway/pkg/logger"
)

// StreamObserver receives controller output as it happens, so a transport
// layer (SSE fan-out, websocket, test double) can mirror the stream without
// owning any of its state. Content is always the full accumulated text.
type StreamObserver struct {
	OnChunk func(threadID, messageID, accumulated string)
}

// SendResult describes a finished send/receive cycle.
type SendResult struct {
	ThreadID         string
	UserMessage      model.Message
	AssistantMessage model.Message
	Aborted          bool
}

// flight is the in-flight stream bookkeeping for one owner. The abort
// channel wakes the waiter, since an aborted stream fires neither completion
// nor error callbacks.
type flight struct {
	mu      sync.Mutex
	handle  llm.StreamHandle
	aborted bool
	abortCh chan struct{}
}

func newFlight() *flight {
	return &flight{abortCh: make(chan struct{})}
}

func (f *flight) setHandle(h llm.StreamHandle) {
	f.mu.Lock()
	f.handle = h
	aborted := f.aborted
	f.mu.Unlock()
	// Abort raced the stream start; cancel now that there is a handle.
	if aborted {
		h.Abort()
	}
}

func (f *flight) abort() {
	f.mu.Lock()
	if f.aborted {
		f.mu.Unlock()
		return
	}
	f.aborted = true
	h := f.handle
	f.mu.Unlock()

	if h != nil {
		h.Abort()
	}
	close(f.abortCh)
}

// ChatService orchestrates one end-to-end send/receive cycle per owner,
// bridging completion stream output into store mutations. At most one
// stream may be in flight per owner at any time; this is enforced, not
// assumed.
type ChatService struct {
	stores       *store.Manager
	llmClient    llm.Client
	logger       *logger.Logger
	defaultModel string
	maxTokens    int

	mu       sync.Mutex
	inflight map[string]*flight
}

// NewChatService creates a chat service.
func NewChatService(stores *store.Manager, llmClient llm.Client, defaultModel string, maxTokens int, log *logger.Logger) *ChatService {
	return &ChatService{
		stores:       stores,
		llmClient:    llmClient,
		logger:       log,
		defaultModel: defaultModel,
		maxTokens:    maxTokens,
		inflight:     make(map[string]*flight),
	}
}

// SendMessage appends the user's message to the selected thread, streams the
// assistant reply into a placeholder message, and persists the thread once
// the stream completes. threadID may be empty to target the current
// selection. The call blocks until the stream reaches a terminal state.
//
// Validation failures reject the send before any state is mutated. A
// transport failure keeps the user message, removes a still-empty
// placeholder and returns a transport-kind error. An abort keeps whatever
// text had accumulated and returns a result with Aborted set instead of an
// error.
func (s *ChatService) SendMessage(ctx context.Context, ownerID, threadID, content, modelName string, obs StreamObserver) (*SendResult, error) {
	if ownerID == "" {
		return nil, ErrNoOwner
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	st, err := s.stores.ForOwner(ctx, ownerID)
	if err != nil {
		return nil, persistenceError(err)
	}

	threadID, err = s.resolveThread(st, threadID)
	if err != nil {
		return nil, err
	}

	f, err := s.acquire(ownerID)
	if err != nil {
		return nil, err
	}
	defer s.release(ownerID)

	userMsgID := st.AddMessage(threadID, model.RoleUser, content, "")

	placeholderID := uuid.Must(uuid.NewV7()).String()
	st.AddMessage(threadID, model.RoleAssistant, "", placeholderID)

	req := &llm.CompletionRequest{
		Model:     s.pickModel(modelName),
		Messages:  s.buildContext(st, threadID),
		MaxTokens: s.maxTokens,
	}

	result := make(chan error, 1)
	handle := s.llmClient.Stream(ctx, req, llm.StreamCallbacks{
		OnChunk: func(accumulated string) {
			st.UpdateMessage(threadID, placeholderID, accumulated)
			if obs.OnChunk != nil {
				obs.OnChunk(threadID, placeholderID, accumulated)
			}
		},
		OnComplete: func() { result <- nil },
		OnError:    func(err error) { result <- err },
	})
	f.setHandle(handle)

	var streamErr error
	aborted := false
	select {
	case streamErr = <-result:
	case <-f.abortCh:
		aborted = true
	case <-ctx.Done():
		// Caller went away mid-stream; no dangling network activity may
		// outlive the controller.
		f.abort()
		aborted = true
	}

	if aborted {
		s.discardEmptyPlaceholder(st, threadID, placeholderID)
		s.logger.Infow("stream aborted", "owner_id", ownerID, "thread_id", threadID)
		return s.buildResult(st, threadID, userMsgID, placeholderID, true), nil
	}

	if streamErr != nil {
		s.discardEmptyPlaceholder(st, threadID, placeholderID)
		s.logger.Warnw("stream failed",
			"owner_id", ownerID,
			"thread_id", threadID,
			"error", streamErr,
		)
		return nil, transportError(streamErr)
	}

	// Persistence is the last step of a successful stream, never
	// interleaved mid-stream. A failed write is logged inside Save and the
	// in-memory state stays authoritative.
	s.stores.Save(ctx, ownerID)

	return s.buildResult(st, threadID, userMsgID, placeholderID, false), nil
}

// SendBlocking runs a non-streaming send: the user message is appended, the
// provider is called synchronously, and the full reply lands as a single
// assistant message.
func (s *ChatService) SendBlocking(ctx context.Context, ownerID, threadID, content, modelName string) (*SendResult, error) {
	if ownerID == "" {
		return nil, ErrNoOwner
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	st, err := s.stores.ForOwner(ctx, ownerID)
	if err != nil {
		return nil, persistenceError(err)
	}

	threadID, err = s.resolveThread(st, threadID)
	if err != nil {
		return nil, err
	}

	if _, err := s.acquire(ownerID); err != nil {
		return nil, err
	}
	defer s.release(ownerID)

	userMsgID := st.AddMessage(threadID, model.RoleUser, content, "")

	resp, err := s.llmClient.Complete(ctx, &llm.CompletionRequest{
		Model:     s.pickModel(modelName),
		Messages:  s.buildContext(st, threadID),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return nil, transportError(err)
	}

	assistantID := st.AddMessage(threadID, model.RoleAssistant, resp.Content, "")
	s.stores.Save(ctx, ownerID)

	return s.buildResult(st, threadID, userMsgID, assistantID, false), nil
}

// Abort cancels the owner's in-flight stream and reports whether one was
// found. Idempotent either way.
func (s *ChatService) Abort(ownerID string) bool {
	s.mu.Lock()
	f := s.inflight[ownerID]
	s.mu.Unlock()

	if f == nil {
		return false
	}
	f.abort()
	return true
}

// Streaming reports whether the owner has a stream in flight.
func (s *ChatService) Streaming(ownerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[ownerID]
	return ok
}

func (s *ChatService) acquire(ownerID string) (*flight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[ownerID]; ok {
		return nil, ErrStreamInFlight
	}
	f := newFlight()
	s.inflight[ownerID] = f
	return f, nil
}

func (s *ChatService) release(ownerID string) {
	s.mu.Lock()
	delete(s.inflight, ownerID)
	s.mu.Unlock()
}

func (s *ChatService) resolveThread(st *store.Store, threadID string) (string, error) {
	if threadID != "" {
		if !st.HasThread(threadID) {
			return "", ErrThreadNotFound
		}
		st.SetCurrentThread(threadID)
		return threadID, nil
	}

	current := st.CurrentThread()
	if current == nil {
		return "", ErrNoThread
	}
	return current.ID, nil
}

// buildContext assembles the outbound conversation context. Assistant
// messages with empty content are excluded so a dangling placeholder is
// never sent to the completion endpoint.
func (s *ChatService) buildContext(st *store.Store, threadID string) []llm.ChatMessage {
	thread := st.Thread(threadID)
	if thread == nil {
		return nil
	}

	msgs := make([]llm.ChatMessage, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		if m.Role == model.RoleAssistant && strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, llm.ChatMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return msgs
}

// discardEmptyPlaceholder removes a placeholder that never received text; a
// partially filled one keeps its content, clearly truncated rather than
// silently dangling.
func (s *ChatService) discardEmptyPlaceholder(st *store.Store, threadID, placeholderID string) {
	thread := st.Thread(threadID)
	if thread == nil {
		return
	}
	for _, m := range thread.Messages {
		if m.ID == placeholderID {
			if m.Content == "" {
				st.RemoveMessage(threadID, placeholderID)
			}
			return
		}
	}
}

func (s *ChatService) buildResult(st *store.Store, threadID, userMsgID, assistantMsgID string, aborted bool) *SendResult {
	res := &SendResult{ThreadID: threadID, Aborted: aborted}

	thread := st.Thread(threadID)
	if thread == nil {
		return res
	}
	for _, m := range thread.Messages {
		switch m.ID {
		case userMsgID:
			res.UserMessage = m
		case assistantMsgID:
			res.AssistantMessage = m
		}
	}
	return res
}

func (s *ChatService) pickModel(modelName string) string {
	if modelName != "" {
		return modelName
	}
	return s.defaultModel
}
