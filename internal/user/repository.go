package user

import (
	"context"
	"database/sql"
	"errors"

	"furnish-be/internal/logger"

	"go.uber.org/zap"
)

var ErrUserNotFound = errors.New("user not found")

type Repository interface {
	GetByID(ctx context.Context, id uint) (*User, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id uint) (*User, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("repo", "User"),
		zap.String("method", "GetByID"),
		zap.Uint("user_id", id),
	)

	const q = `
		SELECT id, email, role, full_name
		FROM users
		WHERE id = $1
	`

	var u User
	err := r.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Email, &u.Role, &u.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn("user not found")
		return nil, ErrUserNotFound
	}
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, err
	}

	return &u, nil
}
