package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/delivery"
	"github.com/chatrelay/internal/messaging"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
)

// Notifier доставляет событие живому соединению пользователя.
type Notifier = messaging.Notifier

type MessageHandler struct {
	msgs     *messaging.Service
	delivery *delivery.Service
	notifier Notifier
}

func NewMessageHandler(msgs *messaging.Service, deliv *delivery.Service, notifier Notifier) *MessageHandler {
	return &MessageHandler{msgs: msgs, delivery: deliv, notifier: notifier}
}

type sendMessageRequest struct {
	Text     string `json:"text" validate:"max=10000"`
	ImageURL string `json:"imageUrl" validate:"omitempty,max=2048"`
	VideoURL string `json:"videoUrl" validate:"omitempty,max=2048"`
}

type editMessageRequest struct {
	Text string `json:"text" validate:"required,max=10000"`
}

type bulkStatusResponse struct {
	Updated int `json:"updated"`
}

// List — страница сообщений диалога (?page=&limit=), новые первыми.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := h.msgs.Page(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"),
		queryInt(r, "page", 1), queryInt(r, "limit", messaging.DefaultPageSize))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Send отправляет сообщение в существующий диалог. Отправитель получает message-sent
// и на своё живое соединение, если оно есть.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	userID := middleware.GetUserID(r.Context())
	body := model.Body{Text: req.Text, ImageURL: req.ImageURL, VideoURL: req.VideoURL}
	sent, err := h.msgs.SendToConversation(r.Context(), userID, chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.notifier.Notify(userID, sent.Ack())
	writeJSON(w, http.StatusCreated, sent.Message)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.msgs.Edit(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.msgs.Delete(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status — статусы доставки сообщения по получателям.
func (h *MessageHandler) Status(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.delivery.StatusOf(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// MarkDelivered отмечает доставленными все сообщения диалога, адресованные текущему пользователю.
func (h *MessageHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	n, err := h.delivery.BulkMarkDelivered(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkStatusResponse{Updated: n})
}

func (h *MessageHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	n, err := h.delivery.BulkMarkSeen(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkStatusResponse{Updated: n})
}
