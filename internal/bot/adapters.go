package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
	"github.com/Susbonk/SusBonk-V1/internal/streambus"
)

// MessageDeleter removes messages through the Telegram SDK.
type MessageDeleter struct {
	api API
}

// NewMessageDeleter wraps the API for the moderation engine.
func NewMessageDeleter(api API) *MessageDeleter {
	return &MessageDeleter{api: api}
}

func (d *MessageDeleter) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	if _, err := d.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

// DeletionRecorder appends audit records to the per-chat deletion
// stream. Each chat's stream expires as a whole 24h after its last
// write.
type DeletionRecorder struct {
	bus *streambus.Bus
	ttl time.Duration
}

// NewDeletionRecorder builds a recorder over the bus.
func NewDeletionRecorder(bus *streambus.Bus, ttl time.Duration) *DeletionRecorder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DeletionRecorder{bus: bus, ttl: ttl}
}

func (r *DeletionRecorder) RecordDeletion(ctx context.Context, rec domain.DeletedMessage) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal deletion record: %w", err)
	}

	stream := "deleted_messages:" + rec.ChatUUID
	fields := map[string]interface{}{
		"job_id":  rec.JobID,
		"payload": string(payload),
	}
	if _, err := r.bus.AppendWithTTL(ctx, stream, fields, r.ttl); err != nil {
		return err
	}
	return nil
}

// TaskQueue publishes spam-classification tasks for the worker fleet.
type TaskQueue struct {
	bus    *streambus.Bus
	stream string
}

// NewTaskQueue builds a queue writing to the given task stream.
func NewTaskQueue(bus *streambus.Bus, stream string) *TaskQueue {
	return &TaskQueue{bus: bus, stream: stream}
}

// EnqueueTask appends the task. The payload carries the model-facing
// text; the full task document rides along for consumers that want the
// echo fields.
func (q *TaskQueue) EnqueueTask(ctx context.Context, task domain.AITask, payload string) error {
	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	fields := map[string]interface{}{
		"job_id":  task.TaskID,
		"payload": payload,
		"task":    string(doc),
	}
	if _, err := q.bus.Append(ctx, q.stream, fields, 0); err != nil {
		return err
	}
	return nil
}
