package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
)

// UserStateRepo tracks external users inside moderated chats.
type UserStateRepo struct{ db *sql.DB }

// NewUserStateRepo creates a Postgres-backed user-state repository.
func NewUserStateRepo(db *sql.DB) *UserStateRepo { return &UserStateRepo{db: db} }

const userStateColumns = `
	id, chat_id, telegram_user_id, trusted, is_active, valid_messages, joined_at, updated_at`

func scanUserState(row *sql.Row) (*domain.UserState, error) {
	s := &domain.UserState{}
	err := row.Scan(
		&s.ID, &s.ChatID, &s.ExternalUserID, &s.Trusted, &s.IsActive,
		&s.ValidMessages, &s.JoinedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user state: %w", err)
	}
	return s, nil
}

// Ensure returns the state row for a user in a chat, creating an
// untrusted one on first contact.
func (r *UserStateRepo) Ensure(ctx context.Context, chatID uuid.UUID, telegramUserID int64) (*domain.UserState, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO user_states (
			id, chat_id, telegram_user_id, trusted, is_active, valid_messages, joined_at, updated_at
		) VALUES ($1, $2, $3, false, true, 0, NOW(), NOW())
		ON CONFLICT (chat_id, telegram_user_id) DO UPDATE SET
			is_active = true,
			updated_at = NOW()
		RETURNING `+userStateColumns, uuid.New(), chatID, telegramUserID)
	return scanUserState(row)
}

// Get fetches an existing state row.
func (r *UserStateRepo) Get(ctx context.Context, chatID uuid.UUID, telegramUserID int64) (*domain.UserState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userStateColumns+`
		FROM user_states
		WHERE chat_id = $1 AND telegram_user_id = $2
	`, chatID, telegramUserID)
	return scanUserState(row)
}

// IncrementValid bumps the user's clean-message counter.
func (r *UserStateRepo) IncrementValid(ctx context.Context, stateID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE user_states SET valid_messages = valid_messages + 1, updated_at = NOW()
		WHERE id = $1
	`, stateID)
	if err != nil {
		return fmt.Errorf("increment valid: %w", err)
	}
	return nil
}
