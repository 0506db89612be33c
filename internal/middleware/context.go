package middleware

import (
	"context"

	"github.com/chatrelay/internal/auth"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	ClaimsKey contextKey = "claims"
)

// GetUserID возвращает user_id из контекста (устанавливается Authenticate).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetClaims возвращает claims токена текущего запроса (нужны для logout).
func GetClaims(ctx context.Context) *auth.Claims {
	v, _ := ctx.Value(ClaimsKey).(*auth.Claims)
	return v
}

// WithIdentity кладёт пользователя и claims в контекст; используется Authenticate и тестами хендлеров.
func WithIdentity(ctx context.Context, userID string, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, ClaimsKey, claims)
}
