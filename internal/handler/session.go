package handler

import (
	"net/http"

	"github.com/threadline-ai/chat-gateway/internal/middleware"
	"github.com/threadline-ai/chat-gateway/internal/model"
	"github.com/threadline-ai/chat-gateway/internal/service"
	"github.com/threadline-ai/chat-gateway/pkg/logger"
)

// SessionHandler reconciles a client's claimed thread selection with the
// stored one. The client reports which thread its address bar names; the
// response tells it which thread to show, and whether it should rewrite the
// address bar to match.
type SessionHandler struct {
	sync   *service.Synchronizer
	logger *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sync *service.Synchronizer, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		sync:   sync,
		logger: log,
	}
}

// Resolve handles GET /api/v1/session?thread=:id
// An absent or empty thread parameter means the client has no selection.
func (h *SessionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)

	loc := newResponseLocator()
	if thread := r.URL.Query().Get("thread"); thread != "" {
		if err := middleware.ValidateThreadID(thread); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		loc.claimed = thread
		loc.present = true
	}

	threadID, err := h.sync.Reconcile(ctx, ownerID, loc)
	if err != nil {
		h.logger.Errorw("session reconcile failed", "owner_id", ownerID, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.SessionResponse{
		ThreadID: threadID,
		Redirect: loc.redirected,
	})
}

// responseLocator is a request-scoped ThreadLocator backed by the query
// string on the way in and the JSON response on the way out.
type responseLocator struct {
	claimed    string
	present    bool
	redirected bool
}

func newResponseLocator() *responseLocator {
	return &responseLocator{}
}

func (l *responseLocator) Current() (string, bool) {
	return l.claimed, l.present
}

func (l *responseLocator) Redirect(id string) {
	l.claimed = id
	l.present = id != ""
	l.redirected = true
}

func (l *responseLocator) Clear() {
	l.claimed = ""
	l.present = false
	l.redirected = true
}
