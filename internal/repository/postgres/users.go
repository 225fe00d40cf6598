package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
)

// UserRepo persists platform accounts and their Telegram bindings.
type UserRepo struct{ db *sql.DB }

// NewUserRepo creates a Postgres-backed user repository.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

// ExistsByTelegramID reports whether an active account is bound to the
// given Telegram user id.
func (r *UserRepo) ExistsByTelegramID(ctx context.Context, telegramID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE telegram_id = $1 AND is_active = true
		)
	`, telegramID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return exists, nil
}

// ConnectTelegram binds a Telegram user id to the account identified by
// the /start payload UUID. A Telegram id binds to at most one account.
func (r *UserRepo) ConnectTelegram(ctx context.Context, accountID uuid.UUID, telegramID int64) (domain.ConnectResult, error) {
	var current sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT telegram_id FROM users WHERE id = $1 AND is_active = true
	`, accountID).Scan(&current)
	if err == sql.ErrNoRows {
		return domain.ConnectNotFound, nil
	}
	if err != nil {
		return domain.ConnectNotFound, fmt.Errorf("lookup account: %w", err)
	}

	if current.Valid {
		if current.Int64 == telegramID {
			return domain.ConnectSameAccount, nil
		}
		return domain.ConnectOtherAccount, nil
	}

	// Refuse when this Telegram id already backs a different account.
	var taken bool
	err = r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE telegram_id = $1 AND id <> $2
		)
	`, telegramID, accountID).Scan(&taken)
	if err != nil {
		return domain.ConnectNotFound, fmt.Errorf("check binding: %w", err)
	}
	if taken {
		return domain.ConnectOtherAccount, nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE users SET telegram_id = $2, updated_at = NOW() WHERE id = $1
	`, accountID, telegramID)
	if err != nil {
		return domain.ConnectNotFound, fmt.Errorf("bind telegram id: %w", err)
	}
	return domain.ConnectSuccess, nil
}
