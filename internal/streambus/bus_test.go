package streambus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewWithClient(rdb), mr
}

func TestEnsureGroupIdempotent(t *testing.T) {
	bus, _ := setupTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.EnsureGroup(ctx, "ai:tasks", "ai-workers"))
	// Second create hits BUSYGROUP, which is success.
	require.NoError(t, bus.EnsureGroup(ctx, "ai:tasks", "ai-workers"))
}

func TestAppendConsumeFinalize(t *testing.T) {
	bus, mr := setupTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.EnsureGroup(ctx, "ai:tasks", "ai-workers"))

	id, err := bus.Append(ctx, "ai:tasks", map[string]interface{}{
		"job_id":  "job-1",
		"payload": "buy cheap followers",
	}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	c := bus.NewConsumer("ai:tasks", "ai-workers", "worker-1", 5, 10*time.Millisecond)
	msgs, err := c.Read(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "job-1", FieldString(msgs[0], "job_id"))
	assert.Equal(t, "buy cheap followers", FieldString(msgs[0], "payload"))

	require.NoError(t, c.Finalize(ctx, msgs[0].ID))

	// Finalize removes the entry from the stream entirely.
	entries, err := mr.Stream("ai:tasks")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppendWithMaxLen(t *testing.T) {
	bus, _ := setupTestBus(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := bus.Append(ctx, "ai:results", map[string]interface{}{"n": i}, 5)
		require.NoError(t, err)
	}

	length, err := bus.rdb.XLen(ctx, "ai:results").Result()
	require.NoError(t, err)
	// Approximate trimming may keep a few extra, never fewer.
	assert.GreaterOrEqual(t, length, int64(5))
	assert.Less(t, length, int64(20))
}

func TestAppendWithTTL(t *testing.T) {
	bus, mr := setupTestBus(t)
	ctx := context.Background()

	_, err := bus.AppendWithTTL(ctx, "deleted_messages:abc", map[string]interface{}{
		"job_id": "job-9",
	}, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, mr.TTL("deleted_messages:abc"))
}

func TestReadRecoversPendingEntries(t *testing.T) {
	bus, _ := setupTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.EnsureGroup(ctx, "ai:tasks", "ai-workers"))
	_, err := bus.Append(ctx, "ai:tasks", map[string]interface{}{"job_id": "orphan"}, 0)
	require.NoError(t, err)

	c := bus.NewConsumer("ai:tasks", "ai-workers", "worker-1", 5, 5*time.Millisecond)

	// Claim the entry but never finalize it.
	msgs, err := c.Read(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// New-entry reads come back empty; after enough empty ticks the
	// consumer re-reads its pending list and sees the orphan again.
	var recovered []redis.XMessage
	for i := 0; i < 12 && len(recovered) == 0; i++ {
		recovered, err = c.Read(ctx)
		require.NoError(t, err)
	}
	require.Len(t, recovered, 1)
	assert.Equal(t, "orphan", FieldString(recovered[0], "job_id"))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), true},
		{"broken pipe", errors.New("write tcp: broken pipe"), true},
		{"io timeout", errors.New("read tcp: i/o timeout"), true},
		{"moved", errors.New("MOVED 3999 127.0.0.1:6381"), true},
		{"clusterdown", errors.New("CLUSTERDOWN The cluster is down"), true},
		{"busygroup", errors.New("BUSYGROUP Consumer Group name already exists"), false},
		{"wrongtype", errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestWithRetryGivesUpOnPermanentError(t *testing.T) {
	bus, _ := setupTestBus(t)

	calls := 0
	err := bus.withRetry(context.Background(), func() error {
		calls++
		return errors.New("WRONGTYPE bad command")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesTransient(t *testing.T) {
	bus, _ := setupTestBus(t)

	calls := 0
	err := bus.withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
