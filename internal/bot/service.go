// Package bot routes Telegram updates: private commands, group message
// intake for the moderation engine, and chat admission via
// my_chat_member transitions.
package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
	"github.com/Susbonk/SusBonk-V1/internal/moderation"
	"github.com/Susbonk/SusBonk-V1/internal/pkg/logger"
)

// API is the slice of the Telegram SDK the service calls.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetInviteLink(config tgbotapi.ChatInviteLinkConfig) (string, error)
}

// ChatStore is the chat DAO surface the dispatcher needs.
type ChatStore interface {
	Add(ctx context.Context, platformChatID int64, title, link string, ownerTelegramID int64) (*domain.ChatPolicy, error)
	Deactivate(ctx context.Context, platformChatID int64) error
	IsOwner(ctx context.Context, chatID uuid.UUID, telegramUserID int64) (bool, error)
	UpdateLinkIfEmpty(ctx context.Context, chatID uuid.UUID, link string) error
}

// UserStore resolves accounts by their Telegram binding.
type UserStore interface {
	ExistsByTelegramID(ctx context.Context, telegramID int64) (bool, error)
	ConnectTelegram(ctx context.Context, accountID uuid.UUID, telegramID int64) (domain.ConnectResult, error)
}

// StateStore manages per-chat user states.
type StateStore interface {
	Ensure(ctx context.Context, chatID uuid.UUID, telegramUserID int64) (*domain.UserState, error)
}

// Policies resolves chat policies, normally through the TTL cache.
type Policies interface {
	Get(ctx context.Context, platformChatID int64) (*domain.ChatPolicy, error)
	Invalidate(platformChatID int64)
}

// Enqueuer accepts work items for the moderation pool.
type Enqueuer interface {
	Enqueue(item moderation.WorkItem) bool
}

const (
	replyConnected       = "✅ Account successfully connected to Telegram!"
	replySameAccount     = "ℹ️ Your Telegram is already connected to this account."
	replyOtherAccount    = "❌ This Telegram account is already assigned to somebody else."
	replyAccountNotFound = "❌ Invalid connection token or account not found."
	replyConnectFailed   = "❌ Connection failed. Please try again later."
	replyGreeting        = "Hello! I'm a spam cleaning bot. Add me to your group and connect your account to get started."
	replyHelp            = "I'm a simple bot!\n\nAvailable commands:\n/start - Start the bot\n/help - Show this help message"
)

// Service dispatches updates to the command, group and membership
// handlers.
type Service struct {
	api      API
	chats    ChatStore
	users    UserStore
	states   StateStore
	policies Policies
	engine   Enqueuer
}

// NewService wires the dispatcher.
func NewService(api API, chats ChatStore, users UserStore, states StateStore, policies Policies, engine Enqueuer) *Service {
	return &Service{
		api:      api,
		chats:    chats,
		users:    users,
		states:   states,
		policies: policies,
		engine:   engine,
	}
}

// HandleUpdate routes one update. Polling and webhook modes both feed
// this entry point.
func (s *Service) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.MyChatMember != nil:
		s.handleMyChatMember(ctx, update.MyChatMember)
	case update.Message != nil:
		msg := update.Message
		switch {
		case msg.Chat.IsPrivate() && msg.IsCommand():
			s.handleCommand(ctx, msg)
		case (msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()) && msg.Text != "":
			s.handleGroupMessage(ctx, msg)
		}
	}
}

func (s *Service) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		s.handleStart(ctx, msg)
	case "help":
		s.reply(msg.Chat.ID, replyHelp)
	}
}

// handleStart binds a Telegram user to an account when the payload is a
// connection token, and greets otherwise.
func (s *Service) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	payload := strings.TrimSpace(msg.CommandArguments())
	accountID, err := uuid.Parse(payload)
	if err != nil {
		s.reply(msg.Chat.ID, replyGreeting)
		return
	}
	if msg.From == nil {
		return
	}

	result, err := s.users.ConnectTelegram(ctx, accountID, msg.From.ID)
	if err != nil {
		logger.Error("account connect failed", "account_id", accountID.String(), "error", err.Error())
		s.reply(msg.Chat.ID, replyConnectFailed)
		return
	}

	switch result {
	case domain.ConnectSuccess:
		s.reply(msg.Chat.ID, replyConnected)
	case domain.ConnectSameAccount:
		s.reply(msg.Chat.ID, replySameAccount)
	case domain.ConnectOtherAccount:
		s.reply(msg.Chat.ID, replyOtherAccount)
	default:
		s.reply(msg.Chat.ID, replyAccountNotFound)
	}
}

// handleGroupMessage resolves trust and user state, then hands the
// message to the moderation pool. The handler stays light; all policy
// evaluation happens on the worker side.
func (s *Service) handleGroupMessage(ctx context.Context, msg *tgbotapi.Message) {
	item := moderation.WorkItem{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		Entities:  convertEntities(msg.Entities),
	}
	if msg.From != nil {
		item.UserID = msg.From.ID
		item.Nickname = nickname(msg.From)
	}

	if policy, err := s.policies.Get(ctx, msg.Chat.ID); err == nil {
		s.refreshChatLink(ctx, policy)

		if msg.From != nil {
			owner, err := s.chats.IsOwner(ctx, policy.ID, msg.From.ID)
			if err != nil {
				logger.Warn("owner check failed", "chat_id", msg.Chat.ID, "error", err.Error())
			}
			item.IsOwner = owner

			if !owner {
				state, err := s.states.Ensure(ctx, policy.ID, msg.From.ID)
				if err != nil {
					logger.Warn("user state ensure failed", "chat_id", msg.Chat.ID, "error", err.Error())
				} else {
					item.IsTrusted = state.Trusted
					item.UserStateID = state.ID
				}
			}
		}
	}

	s.engine.Enqueue(item)
}

// refreshChatLink fills a missing invite link, best effort.
func (s *Service) refreshChatLink(ctx context.Context, policy *domain.ChatPolicy) {
	if policy.ChatLink != "" {
		return
	}
	link, err := s.api.GetInviteLink(tgbotapi.ChatInviteLinkConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: policy.PlatformChatID},
	})
	if err != nil || link == "" {
		return
	}
	if err := s.chats.UpdateLinkIfEmpty(ctx, policy.ID, link); err != nil {
		logger.Warn("chat link update failed", "chat_id", policy.PlatformChatID, "error", err.Error())
	}
}

func (s *Service) handleMyChatMember(ctx context.Context, upd *tgbotapi.ChatMemberUpdated) {
	if !(upd.Chat.IsGroup() || upd.Chat.IsSuperGroup()) {
		return
	}

	oldStatus := upd.OldChatMember.Status
	newStatus := upd.NewChatMember.Status
	added := inSet(newStatus, "member", "administrator") && inSet(oldStatus, "left", "kicked")
	removed := inSet(newStatus, "left", "kicked") && inSet(oldStatus, "member", "administrator", "restricted")

	switch {
	case added:
		s.admitChat(ctx, upd)
	case removed:
		logger.Info("bot removed from chat", "chat_id", upd.Chat.ID, "old", oldStatus, "new", newStatus)
		if err := s.chats.Deactivate(ctx, upd.Chat.ID); err != nil {
			logger.Error("chat deactivation failed", "chat_id", upd.Chat.ID, "error", err.Error())
		}
		// A cached policy must not outlive the chat row it mirrors.
		s.policies.Invalidate(upd.Chat.ID)
	case oldStatus != newStatus:
		logger.Info("bot chat status changed", "chat_id", upd.Chat.ID, "old", oldStatus, "new", newStatus)
	}
}

// admitChat registers a group when the inviter has a connected account
// and leaves immediately when not.
func (s *Service) admitChat(ctx context.Context, upd *tgbotapi.ChatMemberUpdated) {
	chatID := upd.Chat.ID
	inviterID := upd.From.ID
	logger.Info("bot added to chat", "chat_id", chatID, "inviter_id", inviterID)

	known, err := s.users.ExistsByTelegramID(ctx, inviterID)
	if err != nil {
		logger.Error("inviter lookup failed", "chat_id", chatID, "inviter_id", inviterID, "error", err.Error())
		return
	}
	if !known {
		logger.Warn("inviter has no account, leaving chat", "chat_id", chatID, "inviter_id", inviterID)
		if _, err := s.api.Request(tgbotapi.LeaveChatConfig{ChatID: chatID}); err != nil {
			logger.Error("leave chat failed", "chat_id", chatID, "error", err.Error())
		}
		return
	}

	link, _ := s.api.GetInviteLink(tgbotapi.ChatInviteLinkConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})

	if _, err := s.chats.Add(ctx, chatID, upd.Chat.Title, link, inviterID); err != nil {
		logger.Error("chat registration failed", "chat_id", chatID, "inviter_id", inviterID, "error", err.Error())
		return
	}
	logger.Info("chat registered", "chat_id", chatID, "inviter_id", inviterID)
}

func (s *Service) reply(chatID int64, text string) {
	if _, err := s.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logger.Error("send message failed", "chat_id", chatID, "error", err.Error())
	}
}

func convertEntities(entities []tgbotapi.MessageEntity) []moderation.Entity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]moderation.Entity, len(entities))
	for i, e := range entities {
		out[i] = moderation.Entity{
			Type:   e.Type,
			Offset: e.Offset,
			Length: e.Length,
			URL:    e.URL,
		}
	}
	return out
}

// nickname prefers the username, falling back to the display name.
func nickname(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return fmt.Sprintf("%s %s", u.FirstName, u.LastName)
}

func inSet(s string, set ...string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
