// Package domain holds the shared types that cross service boundaries:
// chat policy and user state rows, AI task/result payloads, deletion
// records, log events and alerts.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatPolicy is the per-chat moderation configuration plus its counters.
// A chat is never deleted; deactivation flips IsActive.
type ChatPolicy struct {
	ID             uuid.UUID
	PlatformChatID int64
	Title          string
	ChatLink       string
	IsActive       bool

	AIEnabled       bool
	CleanupMentions bool
	CleanupLinks    bool
	CleanupEmails   bool
	CleanupEmojis   bool

	PromptsThreshold      float64
	CustomPromptThreshold float64
	MaxEmojiCount         int

	AllowedMentions    []string
	AllowedLinkDomains []string

	ProcessedMessages int64
	SpamDetected      int64
	MessagesDeleted   int64

	OwnerID   uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserState tracks a single external user within a single chat.
type UserState struct {
	ID             uuid.UUID
	ChatID         uuid.UUID
	ExternalUserID int64
	Trusted        bool
	IsActive       bool
	ValidMessages  int64
	JoinedAt       time.Time
	UpdatedAt      time.Time
}

// AITask is the spam-detection request the bot hands to the AI worker
// fleet. It travels as the JSON payload of a task-stream entry.
type AITask struct {
	TaskID      string    `json:"task_id"`
	ChatID      int64     `json:"chat_id"`
	MessageID   int       `json:"message_id"`
	UserID      int64     `json:"user_id"`
	MessageText string    `json:"message_text"`
	PromptIDs   []int     `json:"prompt_ids"`
	Thresholds  []float64 `json:"thresholds,omitempty"`
	CreatedAt   int64     `json:"created_at"`
}

// NewAITask builds a task stamped with the current time.
func NewAITask(taskID string, chatID int64, messageID int, userID int64, text string, promptIDs []int, thresholds []float64) AITask {
	return AITask{
		TaskID:      taskID,
		ChatID:      chatID,
		MessageID:   messageID,
		UserID:      userID,
		MessageText: text,
		PromptIDs:   promptIDs,
		Thresholds:  thresholds,
		CreatedAt:   time.Now().Unix(),
	}
}

// AIResult is the classification outcome for one AITask. Exactly one
// result exists per task_id, success or error.
type AIResult struct {
	TaskID            string  `json:"task_id"`
	OK                bool    `json:"ok"`
	Error             string  `json:"error,omitempty"`
	IsSpam            bool    `json:"is_spam"`
	Score             float64 `json:"score"`
	MatchedPromptID   *int    `json:"matched_prompt_id,omitempty"`
	MatchedPromptName string  `json:"matched_prompt_name,omitempty"`
	ElapsedMs         int64   `json:"elapsed_ms"`
	ChatID            int64   `json:"chat_id"`
	MessageID         int     `json:"message_id"`
	UserID            int64   `json:"user_id"`
	CompletedAt       int64   `json:"completed_at"`
}

// SpamResult builds a successful is_spam=true result.
func SpamResult(taskID string, score float64, promptID int, promptName string, elapsedMs int64, chatID int64, messageID int, userID int64) AIResult {
	return AIResult{
		TaskID:            taskID,
		OK:                true,
		IsSpam:            true,
		Score:             score,
		MatchedPromptID:   &promptID,
		MatchedPromptName: promptName,
		ElapsedMs:         elapsedMs,
		ChatID:            chatID,
		MessageID:         messageID,
		UserID:            userID,
		CompletedAt:       time.Now().Unix(),
	}
}

// CleanResult builds a successful is_spam=false result.
func CleanResult(taskID string, score float64, elapsedMs int64, chatID int64, messageID int, userID int64) AIResult {
	return AIResult{
		TaskID:      taskID,
		OK:          true,
		Score:       score,
		ElapsedMs:   elapsedMs,
		ChatID:      chatID,
		MessageID:   messageID,
		UserID:      userID,
		CompletedAt: time.Now().Unix(),
	}
}

// ErrorResult builds a failed result carrying the error string.
func ErrorResult(taskID, errMsg string, chatID int64, messageID int, userID int64) AIResult {
	return AIResult{
		TaskID:      taskID,
		Error:       errMsg,
		ChatID:      chatID,
		MessageID:   messageID,
		UserID:      userID,
		CompletedAt: time.Now().Unix(),
	}
}

// DeletedMessage is the audit record appended to the per-chat deletion
// stream before a message is removed. The stream key carries a 24h TTL.
type DeletedMessage struct {
	JobID          string `json:"job_id"`
	ChatID         int64  `json:"chat_id"`
	ChatUUID       string `json:"chat_uuid"`
	TelegramUserID int64  `json:"telegram_user_id"`
	UserStateUUID  string `json:"user_state_uuid,omitempty"`
	Nickname       string `json:"nickname,omitempty"`
	MessageText    string `json:"message_text"`
	Timestamp      int64  `json:"timestamp"`
}

// Alert is a single notification produced by the alert loop.
type Alert struct {
	Severity string
	Kind     string
	Message  string
}

// ConnectResult is the outcome of binding a Telegram user id to an
// account. One Telegram id binds to at most one account.
type ConnectResult int

const (
	ConnectSuccess ConnectResult = iota
	ConnectSameAccount
	ConnectOtherAccount
	ConnectNotFound
)

func (r ConnectResult) String() string {
	switch r {
	case ConnectSuccess:
		return "success"
	case ConnectSameAccount:
		return "same_account"
	case ConnectOtherAccount:
		return "other_account"
	default:
		return "not_found"
	}
}
