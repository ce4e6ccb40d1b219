package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepo — данные пользователей, нужные автоматизации.
type UserRepo struct {
	db DBTX
}

// NewUserRepo создаёт новый UserRepo.
func NewUserRepo(db DBTX) *UserRepo {
	return &UserRepo{db: db}
}

// Timezone возвращает IANA-часовой пояс пользователя ("" если не задан).
func (r *UserRepo) Timezone(ctx context.Context, userID uuid.UUID) (string, error) {
	var tz *string
	err := r.db.QueryRow(ctx, `SELECT timezone FROM users WHERE id = $1`, userID).Scan(&tz)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get user timezone: %w", err)
	}
	return derefString(tz), nil
}

// IncrementPostCount увеличивает счётчик публикаций пользователя.
// Вызывать только после успешного MarkPostCountIncremented в той же транзакции.
func (r *UserRepo) IncrementPostCount(ctx context.Context, userID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE users SET post_count = post_count + 1, updated_at = NOW() WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("increment post count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
