package handler

import (
	"context"
	"net/http"

	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/middleware"
)

// Revoker отзывает токен до истечения его срока.
type Revoker interface {
	Revoke(ctx context.Context, claims *auth.Claims) error
}

type AuthHandler struct {
	revoker Revoker
}

func NewAuthHandler(revoker Revoker) *AuthHandler {
	return &AuthHandler{revoker: revoker}
}

// Logout отзывает токен текущего запроса. Уже открытые WebSocket-соединения живут до разрыва.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if err := h.revoker.Revoke(r.Context(), claims); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Infof("logout user=%s", claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}
