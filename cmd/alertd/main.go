package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Susbonk/SusBonk-V1/internal/alert"
	"github.com/Susbonk/SusBonk-V1/internal/config"
	"github.com/Susbonk/SusBonk-V1/internal/opensearch"
	"github.com/Susbonk/SusBonk-V1/internal/pkg/logger"
	"github.com/Susbonk/SusBonk-V1/internal/telemetry"
)

func main() {
	log.Println("[alertd] starting alert daemon...")

	cfg, err := config.LoadFromEnv("config.yaml")
	if err != nil {
		log.Fatalf("[alertd] config: %v", err)
	}

	logger.SetService("alertd")
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

	sinks := []alert.Notifier{alert.StdoutNotifier{}}
	if cfg.Email.Enabled {
		logger.Info("email notifications enabled",
			"server", cfg.Email.Server, "port", cfg.Email.Port, "recipients", len(cfg.Email.To))
		sinks = append(sinks, alert.NewEmailNotifier(cfg.Email))
	}

	cluster := opensearch.NewClient(cfg.Alert.OpenSearchURL)
	checker := alert.NewChecker(cluster, cfg.Alert, alert.NewMultiNotifier(sinks...))

	ctx, cancel := context.WithCancel(context.Background())
	go alert.Loop(ctx, checker, cfg.Alert.Interval())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[alertd] shutting down...")
	cancel()
	if pipe != nil {
		pipe.Stop()
	}
	log.Println("[alertd] stopped")
}
