package moderation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
	"github.com/Susbonk/SusBonk-V1/internal/pkg/logger"
)

// WorkItem is one group message waiting for moderation. The dispatcher
// resolves trust and user state before enqueueing so workers stay off
// the membership tables.
type WorkItem struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Text      string
	Entities  []Entity
	Nickname  string

	IsOwner     bool
	IsTrusted   bool
	UserStateID uuid.UUID
}

// Policies resolves the moderation policy for a chat.
type Policies interface {
	Get(ctx context.Context, platformChatID int64) (*domain.ChatPolicy, error)
}

// ChatCounters updates per-chat message counters.
type ChatCounters interface {
	IncrementProcessed(ctx context.Context, chatID uuid.UUID) error
	IncrementSpam(ctx context.Context, chatID uuid.UUID) error
}

// UserStates updates per-user counters.
type UserStates interface {
	IncrementValid(ctx context.Context, stateID uuid.UUID) error
}

// Deleter removes a condemned message from the chat.
type Deleter interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Recorder persists the audit record before a deletion.
type Recorder interface {
	RecordDeletion(ctx context.Context, rec domain.DeletedMessage) error
}

// TaskEnqueuer hands a message to the AI worker fleet.
type TaskEnqueuer interface {
	EnqueueTask(ctx context.Context, task domain.AITask, payload string) error
}

// Deps bundles everything a worker touches.
type Deps struct {
	Policies Policies
	Chats    ChatCounters
	States   UserStates
	Deleter  Deleter
	Recorder Recorder
	Tasks    TaskEnqueuer
}

// Stats exposes engine counters for the health endpoint.
type Stats struct {
	Processed int64 `json:"processed"`
	Deleted   int64 `json:"deleted"`
	Enqueued  int64 `json:"ai_enqueued"`
	Dropped   int64 `json:"dropped"`
	QueueLen  int   `json:"queue_len"`
}

// Engine fans group messages out to a fixed worker pool over a bounded
// queue. Enqueue never blocks; overflow drops the message unmoderated.
type Engine struct {
	deps    Deps
	workers int
	queue   chan WorkItem

	wg sync.WaitGroup

	mu      sync.RWMutex
	running bool

	processed atomic.Int64
	deleted   atomic.Int64
	enqueued  atomic.Int64
	dropped   atomic.Int64
}

// NewEngine builds an engine with the given pool size and queue depth.
func NewEngine(deps Deps, workers, queueSize int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &Engine{
		deps:    deps,
		workers: workers,
		queue:   make(chan WorkItem, queueSize),
	}
}

// Start launches the worker pool.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	for i := 1; i <= e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	logger.Info("moderation engine started", "workers", e.workers, "queue_cap", cap(e.queue))
}

// Enqueue offers a message to the pool without blocking. Returns false
// when the queue is full or the engine is stopped.
func (e *Engine) Enqueue(item WorkItem) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running {
		return false
	}
	select {
	case e.queue <- item:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// Stop refuses new work, drains the queue and waits for the workers.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.queue)
	e.mu.Unlock()

	e.wg.Wait()
	logger.Info("moderation engine stopped",
		"processed", e.processed.Load(), "deleted", e.deleted.Load(), "dropped", e.dropped.Load())
}

// Snapshot returns the current counters.
func (e *Engine) Snapshot() Stats {
	return Stats{
		Processed: e.processed.Load(),
		Deleted:   e.deleted.Load(),
		Enqueued:  e.enqueued.Load(),
		Dropped:   e.dropped.Load(),
		QueueLen:  len(e.queue),
	}
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	for item := range e.queue {
		e.process(ctx, id, item)
	}
	logger.Debug("moderation worker exited", "worker", id)
}

func (e *Engine) process(ctx context.Context, workerID int, item WorkItem) {
	e.processed.Add(1)

	policy, err := e.deps.Policies.Get(ctx, item.ChatID)
	if err != nil {
		// Unmanaged chat: skip without touching counters.
		logger.Warn("chat policy unavailable, skipping checks",
			"worker", workerID, "chat_id", item.ChatID, "error", err.Error())
		return
	}

	if item.IsTrusted || item.IsOwner {
		e.bumpProcessed(ctx, policy.ID)
		if !policy.AIEnabled && !item.IsOwner && item.UserStateID != uuid.Nil {
			e.bumpValid(ctx, item.UserStateID)
		}
		return
	}

	if trigger, hit := Detect(item.Text, item.Entities, policy); hit {
		e.condemn(ctx, workerID, item, policy, trigger)
		return
	}

	if policy.AIEnabled {
		task := domain.NewAITask(uuid.New().String(), item.ChatID, item.MessageID, item.UserID, item.Text, nil, nil)
		if err := e.deps.Tasks.EnqueueTask(ctx, task, MessageWithLinks(item.Text, item.Entities)); err != nil {
			logger.Warn("failed to enqueue ai task",
				"worker", workerID, "chat_id", item.ChatID, "message_id", item.MessageID, "error", err.Error())
		} else {
			e.enqueued.Add(1)
		}
		// Not counted valid until a model verdict exists.
		e.bumpProcessed(ctx, policy.ID)
		return
	}

	e.bumpProcessed(ctx, policy.ID)
	if item.UserStateID != uuid.Nil {
		e.bumpValid(ctx, item.UserStateID)
	}
}

// condemn records, deletes and counts a triggered message. Record and
// delete failures are logged but never stop the pipeline.
func (e *Engine) condemn(ctx context.Context, workerID int, item WorkItem, policy *domain.ChatPolicy, trigger Trigger) {
	logger.Info("moderation trigger",
		"worker", workerID, "chat_id", item.ChatID, "message_id", item.MessageID, "trigger", string(trigger))

	rec := domain.DeletedMessage{
		JobID:          uuid.New().String(),
		ChatID:         item.ChatID,
		ChatUUID:       policy.ID.String(),
		TelegramUserID: item.UserID,
		Nickname:       item.Nickname,
		MessageText:    MessageWithLinks(item.Text, item.Entities),
		Timestamp:      time.Now().Unix(),
	}
	if item.UserStateID != uuid.Nil {
		rec.UserStateUUID = item.UserStateID.String()
	}
	if err := e.deps.Recorder.RecordDeletion(ctx, rec); err != nil {
		logger.Warn("failed to store deletion record",
			"worker", workerID, "chat_id", item.ChatID, "job_id", rec.JobID, "error", err.Error())
	}

	if err := e.deps.Deleter.DeleteMessage(ctx, item.ChatID, item.MessageID); err != nil {
		logger.Warn("failed to delete message",
			"worker", workerID, "chat_id", item.ChatID, "message_id", item.MessageID, "error", err.Error())
	}

	e.deleted.Add(1)
	e.bumpProcessed(ctx, policy.ID)
	if err := e.deps.Chats.IncrementSpam(ctx, policy.ID); err != nil {
		logger.Warn("failed to update spam counters", "chat_id", item.ChatID, "error", err.Error())
	}
}

func (e *Engine) bumpProcessed(ctx context.Context, chatID uuid.UUID) {
	if err := e.deps.Chats.IncrementProcessed(ctx, chatID); err != nil {
		logger.Warn("failed to update processed counter", "chat_uuid", chatID.String(), "error", err.Error())
	}
}

func (e *Engine) bumpValid(ctx context.Context, stateID uuid.UUID) {
	if err := e.deps.States.IncrementValid(ctx, stateID); err != nil {
		logger.Warn("failed to update valid counter", "user_state", stateID.String(), "error", err.Error())
	}
}
