// Package storage описывает контракты хранилищ. Реализации: repository (Postgres),
// memory (in-process, для тестов и -memory), redis (TokenStore).
package storage

import (
	"context"
	"time"

	"github.com/chatrelay/internal/model"
)

// TokenStore — отозванные токены и лимит частоты подключений.
// Реализации: redis.Client, memory.Client (без Redis).
type TokenStore interface {
	RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	AllowConnect(ctx context.Context, userID string) (allowed bool, err error)
	Close() error
}

type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUsers(ctx context.Context, ids []string) ([]model.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]model.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error)
	UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error)
}

// ConversationStore persists conversations. CreateDirect must fail with
// apperr.ErrConflict when a two-party conversation for the same pair key exists.
type ConversationStore interface {
	FindDirect(ctx context.Context, pairKey string) (*model.Conversation, error)
	CreateDirect(ctx context.Context, c *model.Conversation, pairKey string) error
	CreateGroup(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

// MessageStore persists messages and their per-recipient statuses.
//
// AppendMessage stores the message, its statuses and the conversation's last message
// reference in one unit. SetDelivered and SetSeen only write timestamps that are still
// unset and report what they changed; they return apperr.ErrNotFound when the
// recipient has no status row on the message.
type MessageStore interface {
	AppendMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, int, error)
	History(ctx context.Context, userID string, limit, offset int) ([]model.Message, error)
	UpdateText(ctx context.Context, id, text string, at time.Time) (*model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	SetDelivered(ctx context.Context, messageID, recipientID string, at time.Time) (model.StatusChange, error)
	SetSeen(ctx context.Context, messageID, recipientID string, at time.Time) (model.StatusChange, error)
	UndeliveredIDs(ctx context.Context, conversationID, recipientID string) ([]string, error)
	UnseenIDs(ctx context.Context, conversationID, recipientID string) ([]string, error)
	Statuses(ctx context.Context, messageID string) ([]model.RecipientStatus, error)
}

// ChatStore is the full set of chat stores backed by one database.
type ChatStore interface {
	UserStore
	ConversationStore
	MessageStore
}
