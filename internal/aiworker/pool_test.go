package aiworker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
	"github.com/Susbonk/SusBonk-V1/internal/llm"
	"github.com/Susbonk/SusBonk-V1/internal/streambus"
)

func setupTest(t *testing.T) (*streambus.Bus, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return streambus.NewWithClient(rdb), rdb
}

func testConfig() Config {
	return Config{
		TasksStream:   "ai:tasks",
		ResultsStream: "ai:results",
		Group:         "ai-workers",
		Workers:       2,
		ReadCount:     5,
		Block:         20 * time.Millisecond,
	}
}

type fakeModel struct {
	out string
	err error
}

func (f *fakeModel) OneShot(_ context.Context, _ string, _ json.RawMessage) (string, error) {
	return f.out, f.err
}

func waitForResult(t *testing.T, rdb *redis.Client) redis.XMessage {
	t.Helper()
	var msgs []redis.XMessage
	require.Eventually(t, func() bool {
		var err error
		msgs, err = rdb.XRange(context.Background(), "ai:results", "-", "+").Result()
		return err == nil && len(msgs) > 0
	}, 3*time.Second, 20*time.Millisecond)
	return msgs[0]
}

func TestTaskRoundTripLocalFlavor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		io.WriteString(w, `{"message":{"content":"pong"}}`)
	}))
	defer srv.Close()

	bus, rdb := setupTest(t)
	client := llm.NewClient(srv.URL+"/api/chat", "llama3", "", 5*time.Second)
	pool := New(bus, client, testConfig())

	_, err := bus.Append(context.Background(), "ai:tasks", map[string]interface{}{
		"job_id": "j1", "payload": "ping",
	}, 0)
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	result := waitForResult(t, rdb)
	assert.Equal(t, "j1", streambus.FieldString(result, "job_id"))
	assert.Equal(t, "true", streambus.FieldString(result, "ok"))
	assert.Equal(t, "pong", streambus.FieldString(result, "output"))

	elapsed, err := strconv.ParseInt(streambus.FieldString(result, "elapsed_ms"), 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, int64(0))

	// Task entry is gone once finalized.
	assert.Eventually(t, func() bool {
		n, err := rdb.XLen(context.Background(), "ai:tasks").Result()
		return err == nil && n == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestMissingJobIDFinalizedWithoutModelCall(t *testing.T) {
	bus, rdb := setupTest(t)

	calls := 0
	model := modelFunc(func() (string, error) {
		calls++
		return "never", nil
	})
	pool := New(bus, model, testConfig())

	_, err := bus.Append(context.Background(), "ai:tasks", map[string]interface{}{
		"payload": "orphan payload",
	}, 0)
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	assert.Eventually(t, func() bool {
		n, err := rdb.XLen(context.Background(), "ai:tasks").Result()
		return err == nil && n == 0
	}, 3*time.Second, 20*time.Millisecond)

	results, err := rdb.XRange(context.Background(), "ai:results", "-", "+").Result()
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, calls)
}

type modelFunc func() (string, error)

func (f modelFunc) OneShot(_ context.Context, _ string, _ json.RawMessage) (string, error) {
	return f()
}

func TestModelErrorPublishesErrorResult(t *testing.T) {
	bus, rdb := setupTest(t)
	pool := New(bus, &fakeModel{err: errors.New("HTTP 500: upstream exploded")}, testConfig())

	taskDoc, err := json.Marshal(domain.NewAITask("j2", -100, 42, 9, "ping", nil, nil))
	require.NoError(t, err)
	_, err = bus.Append(context.Background(), "ai:tasks", map[string]interface{}{
		"job_id": "j2", "payload": "ping", "task": string(taskDoc),
	}, 0)
	require.NoError(t, err)

	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	result := waitForResult(t, rdb)
	assert.Equal(t, "j2", streambus.FieldString(result, "job_id"))
	assert.Equal(t, "false", streambus.FieldString(result, "ok"))
	assert.Contains(t, streambus.FieldString(result, "error"), "HTTP 500")
	assert.Empty(t, streambus.FieldString(result, "output"))

	// The structured companion echoes the task context back.
	var res domain.AIResult
	require.NoError(t, json.Unmarshal([]byte(streambus.FieldString(result, "result")), &res))
	assert.Equal(t, "j2", res.TaskID)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "HTTP 500")
	assert.Equal(t, int64(-100), res.ChatID)
	assert.Equal(t, 42, res.MessageID)
	assert.Equal(t, int64(9), res.UserID)
}

func TestResultsMaxLenCapsStream(t *testing.T) {
	bus, rdb := setupTest(t)
	cfg := testConfig()
	cfg.ResultsMaxLen = 5
	cfg.Workers = 1
	pool := New(bus, &fakeModel{out: "ok"}, cfg)

	for i := 0; i < 30; i++ {
		_, err := bus.Append(context.Background(), "ai:tasks", map[string]interface{}{
			"job_id": strconv.Itoa(i), "payload": "p",
		}, 0)
		require.NoError(t, err)
	}

	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Eventually(t, func() bool {
		n, err := rdb.XLen(context.Background(), "ai:tasks").Result()
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)

	n, err := rdb.XLen(context.Background(), "ai:results").Result()
	require.NoError(t, err)
	assert.Less(t, n, int64(30))
}
