// Package handler provides HTTP handlers for the API.
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

// ThreadHandler handles thread endpoints.
type ThreadHandler struct {
	stores *store.Manager
	sync   *service.Synchronizer
	logger *logger.Logger
}

// NewThreadHandler creates a new thread handler.
func NewThreadHandler(stores *store.Manager, sync *service.Synchronizer, log *logger.Logger) *ThreadHandler {
	return &ThreadHandler{
		stores: stores,
		sync:   sync,
		logger: log,
	}
}

// Create handles POST /api/v1/threads
func (h *ThreadHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)

	var req model.CreateThreadRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.stores.ForOwner(ctx, ownerID)
	if err != nil {
		h.logger.Errorw("failed to load threads", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to load threads")
		return
	}

	threadID := st.CreateThread(req.Title)
	h.stores.Save(ctx, ownerID)

	writeJSON(w, http.StatusCreated, st.Thread(threadID))
}

// List handles GET /api/v1/threads
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)

	st, err := h.stores.ForOwner(ctx, ownerID)
	if err != nil {
		h.logger.Errorw("failed to load threads", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to load threads")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListThreadsResponse{
		Threads: st.Threads(),
		Current: st.CurrentThreadID(),
	})
}

// Get handles GET /api/v1/threads/:id
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)
	threadID := chi.URLParam(r, "id")

	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.stores.ForOwner(ctx, ownerID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to load threads")
		return
	}

	thread := st.Thread(threadID)
	if thread == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	writeJSON(w, http.StatusOK, thread)
}

// Rename handles PUT /api/v1/threads/:id
func (h *ThreadHandler) Rename(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)
	threadID := chi.URLParam(r, "id")

	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.RenameThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.stores.ForOwner(ctx, ownerID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to load threads")
		return
	}

	if !st.HasThread(threadID) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	st.RenameThread(threadID, req.Title)
	h.stores.Save(ctx, ownerID)

	writeJSON(w, http.StatusOK, st.Thread(threadID))
}

// Delete handles DELETE /api/v1/threads/:id
func (h *ThreadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)
	threadID := chi.URLParam(r, "id")

	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.stores.ForOwner(ctx, ownerID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to load threads")
		return
	}

	if !st.HasThread(threadID) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	st.DeleteThread(threadID)
	h.stores.Save(ctx, ownerID)

	w.WriteHeader(http.StatusNoContent)
}

// Select handles POST /api/v1/threads/:id/select, a user-driven selection
// change. It propagates outward to the locator in one direction only.
func (h *ThreadHandler) Select(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)
	threadID := chi.URLParam(r, "id")

	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.stores.ForOwner(ctx, ownerID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to load threads")
		return
	}

	if !st.HasThread(threadID) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	st.SetCurrentThread(threadID)

	loc := newResponseLocator()
	if err := h.sync.PropagateSelection(ctx, ownerID, loc); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.SessionResponse{
		ThreadID: threadID,
		Redirect: loc.redirected,
	})
}
