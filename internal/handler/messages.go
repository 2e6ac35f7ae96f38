package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/threadline-ai/chat-gateway/internal/middleware"
	"github.com/threadline-ai/chat-gateway/internal/model"
	"github.com/threadline-ai/chat-gateway/internal/service"
	"github.com/threadline-ai/chat-gateway/internal/store"
	"github.com/threadline-ai/chat-gateway/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	stores          *store.Manager
	chat            *service.ChatService
	logger          *logger.Logger
	maxMessageBytes int
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(stores *store.Manager, chat *service.ChatService, maxMessageBytes int, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		stores:          stores,
		chat:            chat,
		logger:          log,
		maxMessageBytes: maxMessageBytes,
	}
}

// List handles GET /api/v1/threads/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)
	threadID := chi.URLParam(r, "id")

	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.stores.ForOwner(ctx, ownerID)
	if err != nil {
		h.logger.Errorw("failed to load threads", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to load threads")
		return
	}

	thread := st.Thread(threadID)
	if thread == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{
		ThreadID: threadID,
		Messages: thread.Messages,
	})
}

// Send handles POST /api/v1/threads/:id/messages
// Non-streaming send: the full assistant reply comes back in one response.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.chat.SendBlocking(ctx, ownerID, threadID, req.Content, req.Model)
	if err != nil {
		h.logger.Warnw("send failed", "owner_id", ownerID, "thread_id", threadID, "error", err)
		writeServiceError(w, err)
		return
	}

	resp := &model.SendMessageResponse{UserMessage: &result.UserMessage}
	if result.AssistantMessage.ID != "" {
		resp.AssistantMessage = &result.AssistantMessage
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Delete handles DELETE /api/v1/threads/:id/messages/:messageID
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)
	threadID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")

	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.stores.ForOwner(ctx, ownerID)
	if err != nil {
		h.logger.Errorw("failed to load threads", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to load threads")
		return
	}

	thread := st.Thread(threadID)
	if thread == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	found := false
	for _, m := range thread.Messages {
		if m.ID == messageID {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	st.RemoveMessage(threadID, messageID)
	h.stores.Save(ctx, ownerID)

	w.WriteHeader(http.StatusNoContent)
}
