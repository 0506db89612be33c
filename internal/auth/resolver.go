// Package auth turns a bearer credential into an authenticated user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

// Resolver verifies a credential, checks it has not been revoked and loads its user.
// Every rejection wraps apperr.ErrUnauthorized.
type Resolver struct {
	auth   *Authenticator
	tokens storage.TokenStore
	users  storage.UserStore
}

func NewResolver(auth *Authenticator, tokens storage.TokenStore, users storage.UserStore) *Resolver {
	return &Resolver{auth: auth, tokens: tokens, users: users}
}

// Identity is a resolved credential.
type Identity struct {
	User   *model.User
	Claims *Claims
}

func (r *Resolver) Resolve(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: missing credential", apperr.ErrUnauthorized)
	}
	claims, err := r.auth.ValidateToken(credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrUnauthorized, err)
	}
	if claims.ID != "" {
		revoked, err := r.tokens.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, apperr.Storage("auth.IsRevoked", err)
		}
		if revoked {
			return nil, fmt.Errorf("%w: token revoked", apperr.ErrUnauthorized)
		}
	}
	u, err := r.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", apperr.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	return &Identity{User: u, Claims: claims}, nil
}

// Revoke invalidates the token behind claims until it would have expired anyway.
func (r *Resolver) Revoke(ctx context.Context, claims *Claims) error {
	if claims.ID == "" {
		return apperr.Invalid("token has no id")
	}
	ttl := time.Hour
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if err := r.tokens.RevokeToken(ctx, claims.ID, ttl); err != nil {
		return apperr.Storage("auth.Revoke", err)
	}
	return nil
}
