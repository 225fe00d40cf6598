package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Susbonk/SusBonk-V1/internal/aiworker"
	"github.com/Susbonk/SusBonk-V1/internal/config"
	"github.com/Susbonk/SusBonk-V1/internal/llm"
	"github.com/Susbonk/SusBonk-V1/internal/pkg/logger"
	"github.com/Susbonk/SusBonk-V1/internal/streambus"
	"github.com/Susbonk/SusBonk-V1/internal/telemetry"
)

func main() {
	log.Println("[aiworker] starting model worker fleet...")

	cfg, err := config.LoadFromEnv("config.yaml")
	if err != nil {
		log.Fatalf("[aiworker] config: %v", err)
	}

	logger.SetService("aiworker")
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	var pipe *telemetry.Pipe
	if cfg.Telemetry.IngestURL != "" {
		pipe = telemetry.NewPipe(cfg.Telemetry.IngestURL,
			telemetry.WithBatchSize(cfg.Telemetry.BatchSize),
			telemetry.WithMaxQueue(cfg.Telemetry.MaxQueue),
			telemetry.WithFlushInterval(cfg.Telemetry.FlushInterval()),
		)
		logger.SetSink(pipe)
	}

	bus, err := streambus.New(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("[aiworker] redis: %v", err)
	}
	defer bus.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := bus.Ping(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("[aiworker] redis ping: %v", err)
	}
	cancelPing()

	client := llm.NewClient(cfg.AI.BaseURL, cfg.AI.Model, cfg.AI.APIKey, cfg.AI.Timeout())
	logger.Info("model endpoint configured", "base_url", cfg.AI.BaseURL, "model", cfg.AI.Model)

	pool := aiworker.New(bus, client, aiworker.Config{
		TasksStream:   cfg.Redis.TasksStream,
		ResultsStream: cfg.Redis.ResultsStream,
		Group:         cfg.Redis.ConsumerGroup,
		Workers:       cfg.AI.Workers,
		ReadCount:     int64(cfg.AI.XReadCount),
		ResultsMaxLen: int64(cfg.AI.ResultsMaxLen),
		Block:         time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("[aiworker] start: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[aiworker] shutting down...")
	pool.Stop()
	if pipe != nil {
		pipe.Stop()
	}
	log.Println("[aiworker] stopped")
}
