package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	resolver       middleware.IdentityResolver
	tokens         storage.TokenStore
	allowedOrigins string
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins — как в CORS (через запятую или "*").
func NewWSHandler(hub *ws.Hub, resolver middleware.IdentityResolver, tokens storage.TokenStore, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, resolver: resolver, tokens: tokens, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS проверяет токен до апгрейда: без валидной личности соединение не открывается.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, err := h.resolver.Resolve(r.Context(), middleware.Credential(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	allowed, err := h.tokens.AllowConnect(r.Context(), id.User.ID)
	if err != nil {
		writeError(w, r, apperr.Storage("ws.AllowConnect", err))
		return
	}
	if !allowed {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, id.User)
	h.hub.Register(client)
	client.Start(ctx, cancel)
}
