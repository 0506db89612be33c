package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/conversation"
	"github.com/chatrelay/internal/middleware"
)

type ConversationHandler struct {
	convs *conversation.Service
}

func NewConversationHandler(convs *conversation.Service) *ConversationHandler {
	return &ConversationHandler{convs: convs}
}

type createConversationRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type createGroupRequest struct {
	Name         string   `json:"name" validate:"required,max=128"`
	Participants []string `json:"participants" validate:"required,min=1,dive,required"`
}

// CreateOrGet возвращает двусторонний диалог с userId, создавая его при первом обращении.
func (h *ConversationHandler) CreateOrGet(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.convs.ResolveOrCreate(r.Context(), middleware.GetUserID(r.Context()), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.convs.CreateGroup(r.Context(), middleware.GetUserID(r.Context()), req.Name, req.Participants)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// List — диалоги текущего пользователя, сначала с самой свежей активностью.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.convs.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.convs.Get(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.convs.Delete(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
