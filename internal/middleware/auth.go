package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/logger"
)

// IdentityResolver проверяет bearer-токен и возвращает пользователя.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (*auth.Identity, error)
}

// Credential достаёт токен из Authorization: Bearer, а если его нет — из ?token=
// (браузерный WebSocket не умеет слать заголовки).
func Credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Authenticate пропускает запрос дальше только с валидным, неотозванным токеном.
func Authenticate(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := Credential(r)
			id, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				logger.Debugf("auth rejected token=%s path=%s: %v", MaskToken(token), r.URL.Path, err)
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id.User.ID, id.Claims)))
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(apperr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": apperr.Public(err), "code": apperr.Code(err)})
}
