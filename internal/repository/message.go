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

const (
	msgCols = `m.id, m.conversation_id, m.sender_id, m.text, m.image_url, m.video_url, m.edited, m.created_at, m.updated_at`
	// newestFirst — created_at плюс seq, чтобы порядок был стабильным при равных временах.
	newestFirst = `ORDER BY m.created_at DESC, m.seq DESC`
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s scanner, m *model.Message) error {
	return s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body.Text, &m.Body.ImageURL, &m.Body.VideoURL,
		&m.Edited, &m.CreatedAt, &m.UpdatedAt)
}

// AppendMessage в одной транзакции пишет сообщение, по строке статуса на получателя
// и ссылку на последнее сообщение диалога.
func (r *MessageRepository) AppendMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Append", time.Now())()
	recipients := make([]string, len(m.Statuses))
	for i, st := range m.Statuses {
		recipients[i] = st.RecipientID
	}
	return inTx(ctx, r.pool, "msgRepo.Append", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, sender_id, text, image_url, video_url, edited, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.ID, m.ConversationID, m.SenderID, m.Body.Text, m.Body.ImageURL, m.Body.VideoURL, m.Edited, m.CreatedAt, m.UpdatedAt,
		)
		if err != nil {
			return dbErr("msgRepo.Append insert", err)
		}
		if len(recipients) > 0 {
			if _, err := tx.Exec(ctx,
				`INSERT INTO recipient_statuses (message_id, recipient_id)
				 SELECT $1, unnest($2::text[])`, m.ID, recipients,
			); err != nil {
				return dbErr("msgRepo.Append statuses", err)
			}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE conversations SET last_message_id = $1, updated_at = $2 WHERE id = $3`,
			m.ID, m.CreatedAt, m.ConversationID,
		); err != nil {
			return dbErr("msgRepo.Append last message", err)
		}
		return nil
	})
}

func (r *MessageRepository) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	if err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+msgCols+` FROM messages m WHERE m.id = $1`, id), m); err != nil {
		return nil, dbErr("msgRepo.GetByID", err)
	}
	statuses, err := r.statusesOf(ctx, r.pool, []string{id})
	if err != nil {
		return nil, err
	}
	m.Statuses = statuses[id]
	if m.Statuses == nil {
		m.Statuses = []model.RecipientStatus{}
	}
	return m, nil
}

// ListMessages — страница диалога (новые первыми) и общее число сообщений в нём.
func (r *MessageRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, int, error) {
	defer logger.DeferLogDuration("msg.List", time.Now())()
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, dbErr("msgRepo.List count", err)
	}
	msgs, err := r.query(ctx, "msgRepo.List",
		`SELECT `+msgCols+` FROM messages m WHERE m.conversation_id = $1 `+newestFirst+` LIMIT $2 OFFSET $3`,
		conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// History — последние сообщения всех двусторонних диалогов пользователя, новые первыми.
func (r *MessageRepository) History(ctx context.Context, userID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.History", time.Now())()
	return r.query(ctx, "msgRepo.History",
		`SELECT `+msgCols+`
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id AND NOT c.is_group
		 JOIN conversation_participants p ON p.conversation_id = c.id AND p.user_id = $1
		 `+newestFirst+` LIMIT $2 OFFSET $3`,
		userID, limit, offset)
}

func (r *MessageRepository) query(ctx context.Context, op, sql string, args ...any) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, dbErr(op+" query", err)
	}
	msgs := []model.Message{}
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			rows.Close()
			return nil, dbErr(op+" scan", err)
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, dbErr(op+" rows", err)
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]string, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	statuses, err := r.statusesOf(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Statuses = statuses[msgs[i].ID]
		if msgs[i].Statuses == nil {
			msgs[i].Statuses = []model.RecipientStatus{}
		}
	}
	return msgs, nil
}

func (r *MessageRepository) statusesOf(ctx context.Context, q querier, ids []string) (map[string][]model.RecipientStatus, error) {
	rows, err := q.Query(ctx,
		`SELECT message_id, recipient_id, delivered_at, seen_at
		 FROM recipient_statuses WHERE message_id = ANY($1)
		 ORDER BY message_id, recipient_id`, ids)
	if err != nil {
		return nil, dbErr("msgRepo.statuses query", err)
	}
	defer rows.Close()
	out := make(map[string][]model.RecipientStatus, len(ids))
	for rows.Next() {
		var (
			msgID string
			st    model.RecipientStatus
		)
		if err := rows.Scan(&msgID, &st.RecipientID, &st.DeliveredAt, &st.SeenAt); err != nil {
			return nil, dbErr("msgRepo.statuses scan", err)
		}
		out[msgID] = append(out[msgID], st)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("msgRepo.statuses rows", err)
	}
	return out, nil
}

func (r *MessageRepository) UpdateText(ctx context.Context, id, text string, at time.Time) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.UpdateText", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`UPDATE messages m SET text = $2, edited = true, updated_at = $3 WHERE m.id = $1 RETURNING `+msgCols,
		id, text, at), m)
	if err != nil {
		return nil, dbErr("msgRepo.UpdateText", err)
	}
	statuses, err := r.statusesOf(ctx, r.pool, []string{id})
	if err != nil {
		return nil, err
	}
	m.Statuses = statuses[id]
	return m, nil
}

// DeleteMessage удаляет сообщение (статусы каскадом) и, если оно было последним в диалоге,
// пересчитывает last_message_id.
func (r *MessageRepository) DeleteMessage(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.Delete", time.Now())()
	return inTx(ctx, r.pool, "msgRepo.Delete", func(tx pgx.Tx) error {
		var convID string
		if err := tx.QueryRow(ctx, `DELETE FROM messages WHERE id = $1 RETURNING conversation_id`, id).Scan(&convID); err != nil {
			return dbErr("msgRepo.Delete", err)
		}
		_, err := tx.Exec(ctx,
			`UPDATE conversations c SET last_message_id = (
			   SELECT m.id FROM messages m WHERE m.conversation_id = c.id `+newestFirst+` LIMIT 1
			 )
			 WHERE c.id = $1 AND c.last_message_id = $2`, convID, id)
		return dbErr("msgRepo.Delete last message", err)
	})
}

// SetDelivered ставит delivered_at, только если он ещё пуст.
func (r *MessageRepository) SetDelivered(ctx context.Context, messageID, recipientID string, at time.Time) (model.StatusChange, error) {
	defer logger.DeferLogDuration("msg.SetDelivered", time.Now())()
	return r.transition(ctx, "msgRepo.SetDelivered", messageID, recipientID, func(st *model.RecipientStatus, ch *model.StatusChange) {
		if st.DeliveredAt == nil {
			st.DeliveredAt = &at
			ch.Delivered = true
		}
	})
}

// SetSeen ставит seen_at, если он пуст; пустой delivered_at заполняется тем же временем.
func (r *MessageRepository) SetSeen(ctx context.Context, messageID, recipientID string, at time.Time) (model.StatusChange, error) {
	defer logger.DeferLogDuration("msg.SetSeen", time.Now())()
	return r.transition(ctx, "msgRepo.SetSeen", messageID, recipientID, func(st *model.RecipientStatus, ch *model.StatusChange) {
		if st.SeenAt != nil {
			return
		}
		if st.DeliveredAt == nil {
			st.DeliveredAt = &at
			ch.Delivered = true
		}
		st.SeenAt = &at
		ch.Seen = true
	})
}

// transition блокирует строку статуса (FOR UPDATE), применяет apply и записывает результат,
// если что-то изменилось. Конкурирующие отметки сериализуются на блокировке строки.
func (r *MessageRepository) transition(ctx context.Context, op, messageID, recipientID string,
	apply func(st *model.RecipientStatus, ch *model.StatusChange)) (model.StatusChange, error) {
	ch := model.StatusChange{MessageID: messageID}
	err := inTx(ctx, r.pool, op, func(tx pgx.Tx) error {
		st := model.RecipientStatus{RecipientID: recipientID}
		err := tx.QueryRow(ctx,
			`SELECT m.sender_id, s.delivered_at, s.seen_at
			 FROM recipient_statuses s
			 JOIN messages m ON m.id = s.message_id
			 WHERE s.message_id = $1 AND s.recipient_id = $2
			 FOR UPDATE OF s`, messageID, recipientID,
		).Scan(&ch.SenderID, &st.DeliveredAt, &st.SeenAt)
		if err != nil {
			return dbErr(op, err)
		}
		apply(&st, &ch)
		ch.Status = st
		if !ch.Changed() {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE recipient_statuses SET delivered_at = $3, seen_at = $4
			 WHERE message_id = $1 AND recipient_id = $2`,
			messageID, recipientID, st.DeliveredAt, st.SeenAt)
		return dbErr(op+" update", err)
	})
	if err != nil {
		return model.StatusChange{}, err
	}
	return ch, nil
}

func (r *MessageRepository) UndeliveredIDs(ctx context.Context, conversationID, recipientID string) ([]string, error) {
	defer logger.DeferLogDuration("msg.UndeliveredIDs", time.Now())()
	return r.pendingIDs(ctx, "msgRepo.UndeliveredIDs", conversationID, recipientID, "s.delivered_at IS NULL")
}

func (r *MessageRepository) UnseenIDs(ctx context.Context, conversationID, recipientID string) ([]string, error) {
	defer logger.DeferLogDuration("msg.UnseenIDs", time.Now())()
	return r.pendingIDs(ctx, "msgRepo.UnseenIDs", conversationID, recipientID, "s.seen_at IS NULL")
}

// pendingIDs — сообщения диалога, адресованные recipientID и ещё не дошедшие до нужного состояния,
// в порядке отправки. cond — фиксированное условие из этого файла, не пользовательский ввод.
func (r *MessageRepository) pendingIDs(ctx context.Context, op, conversationID, recipientID, cond string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT m.id
		 FROM recipient_statuses s
		 JOIN messages m ON m.id = s.message_id
		 WHERE m.conversation_id = $1 AND s.recipient_id = $2 AND m.sender_id <> $2 AND `+cond+`
		 ORDER BY m.created_at, m.seq`, conversationID, recipientID)
	if err != nil {
		return nil, dbErr(op+" query", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, dbErr(op+" collect", err)
	}
	return ids, nil
}

func (r *MessageRepository) Statuses(ctx context.Context, messageID string) ([]model.RecipientStatus, error) {
	defer logger.DeferLogDuration("msg.Statuses", time.Now())()
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, messageID).Scan(&exists); err != nil {
		return nil, dbErr("msgRepo.Statuses", err)
	}
	if !exists {
		return nil, fmt.Errorf("msgRepo.Statuses: %w", apperr.ErrNotFound)
	}
	statuses, err := r.statusesOf(ctx, r.pool, []string{messageID})
	if err != nil {
		return nil, err
	}
	if statuses[messageID] == nil {
		return []model.RecipientStatus{}, nil
	}
	return statuses[messageID], nil
}
