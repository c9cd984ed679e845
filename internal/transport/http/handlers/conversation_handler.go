package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/service"
	"github.com/vedran77/pulsedm/internal/transport/http/middleware"
)

type ConversationHandler struct {
	dmService *service.DMService
}

func NewConversationHandler(dmService *service.DMService) *ConversationHandler {
	return &ConversationHandler{dmService: dmService}
}

// List handles GET /conversations?page&limit.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	page, limit, ok := pageParams(w, r)
	if !ok {
		return
	}

	convs, err := h.dmService.ListConversations(r.Context(), userID, page, limit)
	if err != nil {
		writeServiceError(w, r, err, "list conversations")
		return
	}

	writeSuccess(w, http.StatusOK, convs)
}

// History handles GET /conversations/{peerUserId}?page&limit&before. Reading
// the history marks the peer's messages as read.
func (h *ConversationHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	peerID, ok := uuidParam(w, r, "peerUserId")
	if !ok {
		return
	}

	page, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	q := domain.PageQuery{Page: page, Limit: limit}

	if v := r.URL.Query().Get("before"); v != "" {
		before, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid before cursor")
			return
		}
		q.Before = &before
	}

	msgs, err := h.dmService.History(r.Context(), userID, peerID, q)
	if err != nil {
		writeServiceError(w, r, err, "load history")
		return
	}

	writeSuccess(w, http.StatusOK, msgs)
}
