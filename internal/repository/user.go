package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

// userCols — список колонок для SELECT (порядок соответствует scanUser).
const userCols = `id, first_name, last_name, email, picture, status_message, phone, social_profiles, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s scanner, u *model.User) error {
	return s.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Picture, &u.StatusMessage, &u.Phone,
		&u.SocialProfiles, &u.CreatedAt, &u.UpdatedAt)
}

func (r *UserRepository) CreateUser(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	social := u.SocialProfiles
	if social == nil {
		social = map[string]string{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+userCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.FirstName, u.LastName, u.Email, u.Picture, u.StatusMessage, u.Phone, social, u.CreatedAt, u.UpdatedAt,
	)
	return dbErr("userRepo.Create", err)
}

func (r *UserRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	if err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id), u); err != nil {
		return nil, dbErr("userRepo.GetByID", err)
	}
	return u, nil
}

// GetUsers возвращает найденных пользователей из ids; отсутствующие молча пропускаются.
func (r *UserRepository) GetUsers(ctx context.Context, ids []string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.GetUsers", time.Now())()
	return r.list(ctx, "userRepo.GetUsers",
		`SELECT `+userCols+` FROM users WHERE id = ANY($1) ORDER BY first_name, id`, ids)
}

func (r *UserRepository) ListUsers(ctx context.Context, limit, offset int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.List", time.Now())()
	return r.list(ctx, "userRepo.List",
		`SELECT `+userCols+` FROM users ORDER BY first_name, id LIMIT $1 OFFSET $2`, limit, offset)
}

// SearchUsers ищет подстроку в имени, фамилии и email без учёта регистра.
func (r *UserRepository) SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.Search", time.Now())()
	return r.list(ctx, "userRepo.Search",
		`SELECT `+userCols+` FROM users
		 WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR email ILIKE $1
		 ORDER BY first_name, id
		 LIMIT $2`, likePattern(query), limit)
}

func (r *UserRepository) list(ctx context.Context, op, sql string, args ...any) ([]model.User, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, dbErr(op+" query", err)
	}
	defer rows.Close()
	users := []model.User{}
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, dbErr(op+" scan", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(op+" rows", err)
	}
	return users, nil
}

// UpdateProfile меняет только непустые (не nil) поля.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	defer logger.DeferLogDuration("user.UpdateProfile", time.Now())()
	var social any
	if upd.SocialProfiles != nil {
		social = upd.SocialProfiles
	}
	u := &model.User{}
	err := scanUser(r.pool.QueryRow(ctx,
		`UPDATE users SET
		   first_name      = COALESCE($2, first_name),
		   last_name       = COALESCE($3, last_name),
		   picture         = COALESCE($4, picture),
		   status_message  = COALESCE($5, status_message),
		   phone           = COALESCE($6, phone),
		   social_profiles = COALESCE($7::jsonb, social_profiles),
		   updated_at      = now()
		 WHERE id = $1
		 RETURNING `+userCols,
		id, upd.FirstName, upd.LastName, upd.Picture, upd.StatusMessage, upd.Phone, social,
	), u)
	if err != nil {
		return nil, dbErr("userRepo.UpdateProfile", err)
	}
	return u, nil
}
