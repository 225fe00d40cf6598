package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Susbonk/SusBonk-V1/internal/config"
	"github.com/Susbonk/SusBonk-V1/internal/ingest"
	"github.com/Susbonk/SusBonk-V1/internal/opensearch"
	"github.com/Susbonk/SusBonk-V1/internal/pkg/logger"
)

func main() {
	log.Println("[ingestd] starting log ingest gateway...")

	cfg, err := config.LoadFromEnv("config.yaml")
	if err != nil {
		log.Fatalf("[ingestd] config: %v", err)
	}

	// The gateway logs to stderr only; shipping its own logs through
	// itself would loop.
	logger.SetService("ingestd")
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	client := opensearch.NewClient(cfg.Ingest.OpenSearchURL)
	handler := ingest.NewHandler(client)

	srv := &http.Server{
		Addr:              cfg.Ingest.Bind,
		Handler:           handler.Router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("ingest gateway listening", "bind", cfg.Ingest.Bind, "opensearch", cfg.Ingest.OpenSearchURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[ingestd] http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[ingestd] shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err.Error())
	}
	log.Println("[ingestd] stopped")
}
