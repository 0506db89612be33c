package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

// convCols — колонки диалога; участники собираются подзапросом в порядке добавления.
const convCols = `c.id, c.is_group, c.name, COALESCE(c.group_admin, ''), c.last_message_id, c.created_at, c.updated_at,
	ARRAY(SELECT p.user_id FROM conversation_participants p WHERE p.conversation_id = c.id ORDER BY p.position, p.user_id)`

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func scanConversation(s scanner, c *model.Conversation) error {
	return s.Scan(&c.ID, &c.IsGroup, &c.Name, &c.GroupAdmin, &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt, &c.Participants)
}

func (r *ConversationRepository) FindDirect(ctx context.Context, pairKey string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.FindDirect", time.Now())()
	c := &model.Conversation{}
	row := r.pool.QueryRow(ctx, `SELECT `+convCols+` FROM conversations c WHERE c.pair_key = $1 AND NOT c.is_group`, pairKey)
	if err := scanConversation(row, c); err != nil {
		return nil, dbErr("convRepo.FindDirect", err)
	}
	return c, nil
}

// CreateDirect создаёт двусторонний диалог. Второй диалог для той же пары упирается
// в уникальный индекс по pair_key и возвращает apperr.ErrConflict.
func (r *ConversationRepository) CreateDirect(ctx context.Context, c *model.Conversation, pairKey string) error {
	defer logger.DeferLogDuration("conv.CreateDirect", time.Now())()
	return inTx(ctx, r.pool, "convRepo.CreateDirect", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO conversations (id, is_group, name, pair_key, created_at, updated_at)
			 VALUES ($1, false, '', $2, $3, $4)
			 ON CONFLICT (pair_key) WHERE NOT is_group DO NOTHING`,
			c.ID, pairKey, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return dbErr("convRepo.CreateDirect", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("convRepo.CreateDirect: %w: pair %s", apperr.ErrConflict, pairKey)
		}
		return insertParticipants(ctx, tx, c.ID, c.Participants)
	})
}

func (r *ConversationRepository) CreateGroup(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conv.CreateGroup", time.Now())()
	return inTx(ctx, r.pool, "convRepo.CreateGroup", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO conversations (id, is_group, name, group_admin, created_at, updated_at)
			 VALUES ($1, true, $2, NULLIF($3, ''), $4, $5)`,
			c.ID, c.Name, c.GroupAdmin, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return dbErr("convRepo.CreateGroup", err)
		}
		return insertParticipants(ctx, tx, c.ID, c.Participants)
	})
}

func insertParticipants(ctx context.Context, tx pgx.Tx, conversationID string, userIDs []string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO conversation_participants (conversation_id, user_id, position)
		 SELECT $1, u.id, u.ord FROM unnest($2::text[]) WITH ORDINALITY AS u(id, ord)`,
		conversationID, userIDs,
	)
	return dbErr("convRepo.insertParticipants", err)
}

func (r *ConversationRepository) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.Get", time.Now())()
	c := &model.Conversation{}
	if err := scanConversation(r.pool.QueryRow(ctx, `SELECT `+convCols+` FROM conversations c WHERE c.id = $1`, id), c); err != nil {
		return nil, dbErr("convRepo.Get", err)
	}
	return c, nil
}

// ListConversations — диалоги пользователя, сначала с самой свежей активностью.
func (r *ConversationRepository) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+convCols+`
		 FROM conversations c
		 JOIN conversation_participants me ON me.conversation_id = c.id AND me.user_id = $1
		 ORDER BY c.updated_at DESC, c.id DESC`, userID)
	if err != nil {
		return nil, dbErr("convRepo.List query", err)
	}
	defer rows.Close()
	convs := []model.Conversation{}
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c); err != nil {
			return nil, dbErr("convRepo.List scan", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("convRepo.List rows", err)
	}
	return convs, nil
}

// DeleteConversation удаляет диалог; сообщения и статусы уходят каскадом.
func (r *ConversationRepository) DeleteConversation(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("conv.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return dbErr("convRepo.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("convRepo.Delete: %w", apperr.ErrNotFound)
	}
	return nil
}
