package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/threadline-ai/chat-gateway/internal/middleware"
	"github.com/threadline-ai/chat-gateway/internal/model"
	"github.com/threadline-ai/chat-gateway/internal/service"
	"github.com/threadline-ai/chat-gateway/pkg/logger"
	"github.com/threadline-ai/chat-gateway/pkg/metrics"
)

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	chat            *service.ChatService
	logger          *logger.Logger
	maxMessageBytes int
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(chat *service.ChatService, maxMessageBytes int, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		chat:            chat,
		logger:          log,
		maxMessageBytes: maxMessageBytes,
	}
}

// Stream handles POST /api/v1/threads/:id/stream
// Accepts a user message and streams the assistant response as SSE events.
// Each "delta" event carries the accumulated assistant text so far, so a
// client that drops an event loses nothing.
//
// The special thread ID "current" targets the owner's current thread.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)
	threadID := chi.URLParam(r, "id")

	if threadID == "current" {
		threadID = ""
	} else if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content, h.maxMessageBytes); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sse := &sseObserver{w: w, flusher: flusher}
	obs := service.StreamObserver{OnChunk: sse.OnChunk}

	result, err := h.chat.SendMessage(ctx, ownerID, threadID, req.Content, req.Model, obs)
	if err != nil {
		h.logger.Warnw("stream failed",
			"owner_id", ownerID,
			"thread_id", threadID,
			"error", err,
		)
		sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
			Code:    errorCode(err),
			Message: err.Error(),
		})
		return
	}

	sendSSEEvent(w, flusher, "user_message", result.UserMessage)

	if !result.Aborted && result.AssistantMessage.ID != "" {
		sendSSEEvent(w, flusher, "message_complete", &model.MessageCompleteEvent{
			Message: result.AssistantMessage,
		})
	}

	sendSSEEvent(w, flusher, "done", map[string]interface{}{
		"thread_id": result.ThreadID,
		"aborted":   result.Aborted,
	})
}

// Abort handles POST /api/v1/threads/:id/stream/abort
// Aborts the owner's in-flight stream, if any. Aborting is idempotent, so a
// request that races stream completion still gets 202.
func (h *StreamHandler) Abort(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	aborted := h.chat.Abort(ownerID)
	h.logger.Infow("abort requested", "owner_id", ownerID, "stream_found", aborted)

	writeJSON(w, http.StatusAccepted, map[string]bool{
		"aborted": aborted,
	})
}

// sseObserver forwards accumulated assistant text to the client as SSE
// "delta" events while a stream is in flight.
type sseObserver struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (o *sseObserver) OnChunk(threadID, messageID, accumulated string) {
	sendSSEEvent(o.w, o.flusher, "delta", &model.DeltaEvent{
		ThreadID:  threadID,
		MessageID: messageID,
		Content:   accumulated,
	})
}

func errorCode(err error) string {
	switch service.KindOf(err) {
	case service.KindValidation:
		return "validation_error"
	case service.KindTransport:
		return "stream_error"
	case service.KindPersistence:
		return "persistence_error"
	default:
		return "internal_error"
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
