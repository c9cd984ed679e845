package handlers

import (
	"net/http"

	"github.com/vedran77/pulsedm/internal/service"
	"github.com/vedran77/pulsedm/internal/transport/http/middleware"
)

type MessageHandler struct {
	dmService *service.DMService
}

func NewMessageHandler(dmService *service.DMService) *MessageHandler {
	return &MessageHandler{dmService: dmService}
}

// Send handles POST /messages/send.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input service.SendMessageInput
	if !decodeJSON(w, r, &input) {
		return
	}

	msg, err := h.dmService.SendDirect(r.Context(), userID, input, service.PathHTTP)
	if err != nil {
		writeServiceError(w, r, err, "send message")
		return
	}

	writeSuccess(w, http.StatusCreated, msg.Redacted())
}

// MarkRead handles PUT /messages/mark-read/{peerUserId}.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	peerID, ok := uuidParam(w, r, "peerUserId")
	if !ok {
		return
	}

	receipt, err := h.dmService.MarkRead(r.Context(), userID, peerID)
	if err != nil {
		writeServiceError(w, r, err, "mark read")
		return
	}

	writeSuccess(w, http.StatusOK, receipt)
}

// UnreadCount handles GET /messages/unread-count.
func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	n, err := h.dmService.UnreadCount(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "count unread")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]int{"unreadCount": n})
}

// Edit handles PATCH /messages/{messageId}.
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	msgID, ok := uuidParam(w, r, "messageId")
	if !ok {
		return
	}

	var input service.EditMessageInput
	if !decodeJSON(w, r, &input) {
		return
	}

	msg, err := h.dmService.Edit(r.Context(), userID, msgID, input)
	if err != nil {
		writeServiceError(w, r, err, "edit message")
		return
	}

	writeSuccess(w, http.StatusOK, msg.Redacted())
}

// Delete handles DELETE /messages/{messageId}.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	msgID, ok := uuidParam(w, r, "messageId")
	if !ok {
		return
	}

	msg, err := h.dmService.Delete(r.Context(), userID, msgID)
	if err != nil {
		writeServiceError(w, r, err, "delete message")
		return
	}

	writeSuccess(w, http.StatusOK, msg.Redacted())
}
