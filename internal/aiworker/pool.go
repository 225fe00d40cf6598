// Package aiworker runs the model worker fleet: a fixed set of
// consumers draining the task stream, calling the model endpoint and
// publishing one result per task.
package aiworker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
	"github.com/Susbonk/SusBonk-V1/internal/pkg/logger"
	"github.com/Susbonk/SusBonk-V1/internal/streambus"
)

// ModelClient is the one-shot chat interface the workers call.
type ModelClient interface {
	OneShot(ctx context.Context, userText string, extra json.RawMessage) (string, error)
}

// Config holds the fleet's stream wiring.
type Config struct {
	TasksStream   string
	ResultsStream string
	Group         string
	Workers       int
	ReadCount     int64
	ResultsMaxLen int64
	Block         time.Duration
}

// Pool is the worker fleet. Tasks are finalized whether the model call
// succeeds or not; a failed classification is not worth retrying.
type Pool struct {
	bus    *streambus.Bus
	client ModelClient
	cfg    Config

	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// New builds a pool over the bus and model client.
func New(bus *streambus.Bus, client ModelClient, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 5
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	return &Pool{bus: bus, client: client, cfg: cfg}
}

// Start ensures the consumer group exists and launches the workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	if err := p.bus.EnsureGroup(ctx, p.cfg.TasksStream, p.cfg.Group); err != nil {
		return err
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 1; i <= p.cfg.Workers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go p.run(ctx, name)
	}
	p.running = true
	logger.Info("ai worker pool started", "workers", p.cfg.Workers, "stream", p.cfg.TasksStream)
	return nil
}

// Stop cancels the workers and waits for them to finish their current
// task.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	logger.Info("ai worker pool stopped")
}

func (p *Pool) run(ctx context.Context, name string) {
	defer p.wg.Done()

	consumer := p.bus.NewConsumer(p.cfg.TasksStream, p.cfg.Group, name, p.cfg.ReadCount, p.cfg.Block)
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("task read failed", "consumer", name, "error", err.Error())
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, msg := range msgs {
			p.handle(ctx, consumer, name, msg)
		}
	}
}

func (p *Pool) handle(ctx context.Context, consumer *streambus.Consumer, name string, msg redis.XMessage) {
	jobID := streambus.FieldString(msg, "job_id")
	if jobID == "" {
		logger.Error("task entry missing job_id, dropping", "consumer", name, "entry", msg.ID)
		p.finalize(ctx, consumer, name, msg.ID)
		return
	}

	payload := streambus.FieldString(msg, "payload")
	var extra json.RawMessage
	if raw := streambus.FieldString(msg, "extra_json"); raw != "" {
		extra = json.RawMessage(raw)
	}

	// The task companion echoes message context into the result stream
	// so consumers can correlate without re-reading the task.
	var task domain.AITask
	if raw := streambus.FieldString(msg, "task"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			logger.Warn("task companion unreadable", "consumer", name, "job_id", jobID, "error", err.Error())
		}
	}

	start := time.Now()
	output, err := p.client.OneShot(ctx, payload, extra)
	elapsed := time.Since(start).Milliseconds()

	fields := map[string]interface{}{
		"job_id":     jobID,
		"elapsed_ms": strconv.FormatInt(elapsed, 10),
	}
	if err != nil {
		fields["ok"] = "false"
		fields["error"] = err.Error()
		res := domain.ErrorResult(jobID, err.Error(), task.ChatID, task.MessageID, task.UserID)
		if doc, mErr := json.Marshal(res); mErr == nil {
			fields["result"] = string(doc)
		}
		logger.Warn("model call failed", "consumer", name, "job_id", jobID, "elapsed_ms", elapsed, "error", err.Error())
	} else {
		fields["ok"] = "true"
		fields["output"] = output
		logger.Info("task completed", "consumer", name, "job_id", jobID, "elapsed_ms", elapsed)
	}

	if _, err := p.bus.Append(ctx, p.cfg.ResultsStream, fields, p.cfg.ResultsMaxLen); err != nil {
		logger.Error("failed to publish result", "consumer", name, "job_id", jobID, "error", err.Error())
	}

	p.finalize(ctx, consumer, name, msg.ID)
}

func (p *Pool) finalize(ctx context.Context, consumer *streambus.Consumer, name, id string) {
	if err := consumer.Finalize(ctx, id); err != nil {
		logger.Error("failed to finalize task", "consumer", name, "entry", id, "error", err.Error())
	}
}
