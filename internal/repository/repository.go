// Package repository — Postgres-реализация storage.ChatStore на pgxpool.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/storage"
)

var _ storage.ChatStore = (*Store)(nil)

// Store собирает репозитории одной базы в storage.ChatStore.
type Store struct {
	*UserRepository
	*ConversationRepository
	*MessageRepository
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		UserRepository:         NewUserRepository(pool),
		ConversationRepository: NewConversationRepository(pool),
		MessageRepository:      NewMessageRepository(pool),
	}
}

// querier — общее у *pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// dbErr переводит ошибки pgx в apperr: нет строки -> ErrNotFound, unique -> ErrConflict,
// нарушение внешнего ключа -> ErrNotFound (ссылка на несуществующую запись).
func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w (%s)", op, apperr.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%s: %w (%s)", op, apperr.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return apperr.Storage(op, err)
}

// inTx выполняет fn в транзакции; откат при любой ошибке.
func inTx(ctx context.Context, pool *pgxpool.Pool, op string, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return dbErr(op+" begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return dbErr(op+" commit", err)
	}
	return nil
}

// likePattern экранирует спецсимволы LIKE и оборачивает запрос в %...%.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}
