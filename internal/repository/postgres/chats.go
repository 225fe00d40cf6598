package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
)

// ChatRepo persists chat policies and their counters.
type ChatRepo struct{ db *sql.DB }

// NewChatRepo creates a Postgres-backed chat repository.
func NewChatRepo(db *sql.DB) *ChatRepo { return &ChatRepo{db: db} }

const chatColumns = `
	id, chat_id, COALESCE(title,''), COALESCE(chat_link,''), is_active,
	ai_enabled, cleanup_mentions, cleanup_links, cleanup_emails, cleanup_emojis,
	prompts_threshold, custom_prompt_threshold, max_emoji_count,
	allowed_mentions, allowed_link_domains,
	processed_messages, spam_detected, messages_deleted,
	owner_id, created_at, updated_at`

func scanChat(row *sql.Row) (*domain.ChatPolicy, error) {
	c := &domain.ChatPolicy{}
	err := row.Scan(
		&c.ID, &c.PlatformChatID, &c.Title, &c.ChatLink, &c.IsActive,
		&c.AIEnabled, &c.CleanupMentions, &c.CleanupLinks, &c.CleanupEmails, &c.CleanupEmojis,
		&c.PromptsThreshold, &c.CustomPromptThreshold, &c.MaxEmojiCount,
		pq.Array(&c.AllowedMentions), pq.Array(&c.AllowedLinkDomains),
		&c.ProcessedMessages, &c.SpamDetected, &c.MessagesDeleted,
		&c.OwnerID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	return c, nil
}

// GetByPlatformID fetches the active chat policy for a platform chat id.
func (r *ChatRepo) GetByPlatformID(ctx context.Context, platformChatID int64) (*domain.ChatPolicy, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats
		WHERE chat_id = $1 AND is_active = true
	`, platformChatID)
	return scanChat(row)
}

// Add registers a chat owned by the user with the given Telegram id,
// reactivating it if the bot was re-added. Policy starts with AI
// moderation on, deterministic cleanups off.
func (r *ChatRepo) Add(ctx context.Context, platformChatID int64, title, link string, ownerTelegramID int64) (*domain.ChatPolicy, error) {
	var ownerID uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM users WHERE telegram_id = $1 AND is_active = true
	`, ownerTelegramID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup owner: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO chats (
			id, chat_id, title, chat_link, is_active,
			ai_enabled, cleanup_mentions, cleanup_links, cleanup_emails, cleanup_emojis,
			prompts_threshold, custom_prompt_threshold, max_emoji_count,
			allowed_mentions, allowed_link_domains,
			processed_messages, spam_detected, messages_deleted,
			owner_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, true,
			true, false, false, false, false,
			0.3, 0.3, 5,
			'{}', '{}',
			0, 0, 0,
			$5, NOW(), NOW()
		)
		ON CONFLICT (chat_id) DO UPDATE SET
			title = EXCLUDED.title,
			is_active = true,
			updated_at = NOW()
		RETURNING `+chatColumns, uuid.New(), platformChatID, title, link, ownerID)
	return scanChat(row)
}

// Deactivate marks a chat inactive. Rows are never deleted.
func (r *ChatRepo) Deactivate(ctx context.Context, platformChatID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chats SET is_active = false, updated_at = NOW() WHERE chat_id = $1
	`, platformChatID)
	if err != nil {
		return fmt.Errorf("deactivate chat: %w", err)
	}
	return nil
}

// UpdateLinkIfEmpty records the invite link only when none is stored.
func (r *ChatRepo) UpdateLinkIfEmpty(ctx context.Context, chatID uuid.UUID, link string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chats SET chat_link = $2, updated_at = NOW()
		WHERE id = $1 AND (chat_link IS NULL OR chat_link = '')
	`, chatID, link)
	if err != nil {
		return fmt.Errorf("update chat link: %w", err)
	}
	return nil
}

// IsOwner reports whether the Telegram user owns the chat.
func (r *ChatRepo) IsOwner(ctx context.Context, chatID uuid.UUID, telegramUserID int64) (bool, error) {
	var owner bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chats c
			JOIN users u ON u.id = c.owner_id
			WHERE c.id = $1 AND u.telegram_id = $2
		)
	`, chatID, telegramUserID).Scan(&owner)
	if err != nil {
		return false, fmt.Errorf("check owner: %w", err)
	}
	return owner, nil
}

// IncrementProcessed bumps the processed counter by one.
func (r *ChatRepo) IncrementProcessed(ctx context.Context, chatID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chats SET processed_messages = processed_messages + 1, updated_at = NOW()
		WHERE id = $1
	`, chatID)
	if err != nil {
		return fmt.Errorf("increment processed: %w", err)
	}
	return nil
}

// IncrementSpam bumps spam_detected and messages_deleted together.
func (r *ChatRepo) IncrementSpam(ctx context.Context, chatID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chats SET
			spam_detected = spam_detected + 1,
			messages_deleted = messages_deleted + 1,
			updated_at = NOW()
		WHERE id = $1
	`, chatID)
	if err != nil {
		return fmt.Errorf("increment spam: %w", err)
	}
	return nil
}
