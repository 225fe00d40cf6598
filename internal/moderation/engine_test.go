package moderation

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
)

type fakeDeps struct {
	mu sync.Mutex

	policies map[int64]*domain.ChatPolicy
	gate     chan struct{} // when set, Get blocks until closed

	processedCalls []uuid.UUID
	spamCalls      []uuid.UUID
	validCalls     []uuid.UUID
	deletions      []domain.DeletedMessage
	deleteCalls    []int
	tasks          []domain.AITask
	payloads       []string

	recordErr error
	deleteErr error
}

func (f *fakeDeps) Get(_ context.Context, chatID int64) (*domain.ChatPolicy, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[chatID]
	if !ok {
		return nil, context.Canceled
	}
	return p, nil
}

func (f *fakeDeps) IncrementProcessed(_ context.Context, chatID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processedCalls = append(f.processedCalls, chatID)
	return nil
}

func (f *fakeDeps) IncrementSpam(_ context.Context, chatID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spamCalls = append(f.spamCalls, chatID)
	return nil
}

func (f *fakeDeps) IncrementValid(_ context.Context, stateID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validCalls = append(f.validCalls, stateID)
	return nil
}

func (f *fakeDeps) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, messageID)
	return f.deleteErr
}

func (f *fakeDeps) RecordDeletion(_ context.Context, rec domain.DeletedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.deletions = append(f.deletions, rec)
	return nil
}

func (f *fakeDeps) EnqueueTask(_ context.Context, task domain.AITask, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	f.payloads = append(f.payloads, payload)
	return nil
}

func newTestEngine(t *testing.T, deps *fakeDeps) *Engine {
	t.Helper()
	e := NewEngine(Deps{
		Policies: deps, Chats: deps, States: deps,
		Deleter: deps, Recorder: deps, Tasks: deps,
	}, 2, 100)
	e.Start(context.Background())
	return e
}

func run(t *testing.T, deps *fakeDeps, items ...WorkItem) {
	t.Helper()
	e := newTestEngine(t, deps)
	for _, item := range items {
		require.True(t, e.Enqueue(item))
	}
	e.Stop()
}

func testPolicy(chatID int64) *domain.ChatPolicy {
	return &domain.ChatPolicy{
		ID:             uuid.New(),
		PlatformChatID: chatID,
		AIEnabled:      false,
		CleanupLinks:   true,
		CleanupEmails:  true,
		MaxEmojiCount:  5,
	}
}

func TestTrustedUserSkipsChecks(t *testing.T) {
	p := testPolicy(-100)
	stateID := uuid.New()
	deps := &fakeDeps{policies: map[int64]*domain.ChatPolicy{-100: p}}

	run(t, deps, WorkItem{
		ChatID: -100, MessageID: 1, UserID: 9,
		Text:      "visit www.spam.example", // would trigger for anyone else
		IsTrusted: true, UserStateID: stateID,
	})

	assert.Empty(t, deps.deleteCalls)
	assert.Len(t, deps.processedCalls, 1)
	// AI disabled, trusted non-owner: counts as a valid message.
	assert.Equal(t, []uuid.UUID{stateID}, deps.validCalls)
}

func TestOwnerNeverCountsValid(t *testing.T) {
	p := testPolicy(-100)
	deps := &fakeDeps{policies: map[int64]*domain.ChatPolicy{-100: p}}

	run(t, deps, WorkItem{ChatID: -100, MessageID: 1, UserID: 9, Text: "hi", IsOwner: true})

	assert.Len(t, deps.processedCalls, 1)
	assert.Empty(t, deps.validCalls)
}

func TestTriggerDeletesAndCounts(t *testing.T) {
	p := testPolicy(-100)
	stateID := uuid.New()
	deps := &fakeDeps{policies: map[int64]*domain.ChatPolicy{-100: p}}

	run(t, deps, WorkItem{
		ChatID: -100, MessageID: 42, UserID: 9,
		Text: "cheap stuff at www.spam.example", Nickname: "spammer",
		UserStateID: stateID,
	})

	// Record first, then delete, then counters.
	require.Len(t, deps.deletions, 1)
	rec := deps.deletions[0]
	assert.Equal(t, p.ID.String(), rec.ChatUUID)
	assert.Equal(t, stateID.String(), rec.UserStateUUID)
	assert.Equal(t, "spammer", rec.Nickname)
	assert.NotEmpty(t, rec.JobID)

	assert.Equal(t, []int{42}, deps.deleteCalls)
	assert.Len(t, deps.processedCalls, 1)
	assert.Len(t, deps.spamCalls, 1)
	assert.Empty(t, deps.validCalls)
	assert.Empty(t, deps.tasks)
}

func TestRecordFailureStillDeletes(t *testing.T) {
	p := testPolicy(-100)
	deps := &fakeDeps{
		policies:  map[int64]*domain.ChatPolicy{-100: p},
		recordErr: assert.AnError,
	}

	run(t, deps, WorkItem{ChatID: -100, MessageID: 7, UserID: 9, Text: "www.spam.example"})

	assert.Equal(t, []int{7}, deps.deleteCalls)
	assert.Len(t, deps.spamCalls, 1)
}

func TestCleanMessageAIEnabled(t *testing.T) {
	p := &domain.ChatPolicy{ID: uuid.New(), PlatformChatID: -100, AIEnabled: true}
	stateID := uuid.New()
	deps := &fakeDeps{policies: map[int64]*domain.ChatPolicy{-100: p}}

	run(t, deps, WorkItem{
		ChatID: -100, MessageID: 3, UserID: 9,
		Text: "hello there", UserStateID: stateID,
	})

	require.Len(t, deps.tasks, 1)
	task := deps.tasks[0]
	assert.Equal(t, int64(-100), task.ChatID)
	assert.Equal(t, 3, task.MessageID)
	assert.Equal(t, "hello there", task.MessageText)
	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, "hello there", deps.payloads[0])

	assert.Len(t, deps.processedCalls, 1)
	// Valid is reserved until a model verdict exists.
	assert.Empty(t, deps.validCalls)
	assert.Empty(t, deps.deleteCalls)
}

func TestCleanMessageAIDisabledCountsValid(t *testing.T) {
	p := &domain.ChatPolicy{ID: uuid.New(), PlatformChatID: -100}
	stateID := uuid.New()
	deps := &fakeDeps{policies: map[int64]*domain.ChatPolicy{-100: p}}

	run(t, deps, WorkItem{ChatID: -100, MessageID: 3, UserID: 9, Text: "hi", UserStateID: stateID})

	assert.Len(t, deps.processedCalls, 1)
	assert.Equal(t, []uuid.UUID{stateID}, deps.validCalls)
	assert.Empty(t, deps.tasks)
}

func TestUnknownChatSkipsEverything(t *testing.T) {
	deps := &fakeDeps{policies: map[int64]*domain.ChatPolicy{}}

	run(t, deps, WorkItem{ChatID: -555, MessageID: 1, UserID: 9, Text: "www.spam.example"})

	assert.Empty(t, deps.processedCalls)
	assert.Empty(t, deps.deleteCalls)
	assert.Empty(t, deps.spamCalls)
}

func TestEnqueueAfterStop(t *testing.T) {
	deps := &fakeDeps{policies: map[int64]*domain.ChatPolicy{}}
	e := newTestEngine(t, deps)
	e.Stop()

	assert.False(t, e.Enqueue(WorkItem{ChatID: -1}))
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	deps := &fakeDeps{policies: map[int64]*domain.ChatPolicy{}, gate: release}
	e := NewEngine(Deps{
		Policies: deps, Chats: deps, States: deps,
		Deleter: deps, Recorder: deps, Tasks: deps,
	}, 1, 2)
	e.Start(context.Background())

	// The single worker stalls on the first item's policy lookup, so
	// the queue of two fills and further enqueues drop.
	dropped := 0
	for i := 0; i < 10; i++ {
		if !e.Enqueue(WorkItem{ChatID: -999, MessageID: i}) {
			dropped++
		}
	}
	assert.Greater(t, dropped, 0)
	assert.Equal(t, int64(dropped), e.Snapshot().Dropped)

	close(release)
	e.Stop()
}
