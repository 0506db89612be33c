package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/storage"
)

const (
	defaultUserListLimit = 100
	maxUserListLimit     = 500
)

type UserHandler struct {
	users    storage.UserStore
	registry *presence.Registry
}

func NewUserHandler(users storage.UserStore, registry *presence.Registry) *UserHandler {
	return &UserHandler{users: users, registry: registry}
}

type userResponse struct {
	model.User
	Online bool `json:"online"`
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, middleware.GetUserID(r.Context()))
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, chi.URLParam(r, "id"))
}

func (h *UserHandler) writeUser(w http.ResponseWriter, r *http.Request, id string) {
	u, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_, online := h.registry.Lookup(id)
	writeJSON(w, http.StatusOK, userResponse{User: *u, Online: online})
}

// UpdateMe меняет профиль текущего пользователя; поля, которых нет в теле, не трогаются.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var upd model.ProfileUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.users.UpdateProfile(r.Context(), middleware.GetUserID(r.Context()), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// List — все пользователи (?limit=&offset=) или поиск по имени/email (?q=).
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultUserListLimit)
	if limit <= 0 || limit > maxUserListLimit {
		limit = defaultUserListLimit
	}
	var (
		users []model.User
		err   error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		users, err = h.users.SearchUsers(r.Context(), q, limit)
	} else {
		offset := queryInt(r, "offset", 0)
		if offset < 0 {
			offset = 0
		}
		users, err = h.users.ListUsers(r.Context(), limit, offset)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// Online — текущий снимок присутствия, тот же, что рассылается в onlineUsers.
func (h *UserHandler) Online(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Snapshot())
}
