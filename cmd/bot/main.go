package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Susbonk/SusBonk-V1/internal/bot"
	"github.com/Susbonk/SusBonk-V1/internal/config"
	"github.com/Susbonk/SusBonk-V1/internal/moderation"
	"github.com/Susbonk/SusBonk-V1/internal/pkg/httputil"
	"github.com/Susbonk/SusBonk-V1/internal/pkg/logger"
	"github.com/Susbonk/SusBonk-V1/internal/policy"
	"github.com/Susbonk/SusBonk-V1/internal/repository/postgres"
	"github.com/Susbonk/SusBonk-V1/internal/streambus"
	"github.com/Susbonk/SusBonk-V1/internal/telemetry"
)

func main() {
	log.Println("[bot] starting telegram bot service...")

	cfg, err := config.LoadFromEnv("config.yaml")
	if err != nil {
		log.Fatalf("[bot] config: %v", err)
	}
	if cfg.Bot.Token == "" {
		log.Fatal("[bot] TELEGRAM_BOT_TOKEN is required")
	}

	logger.SetService("telegram-bot")
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

	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		log.Fatalf("[bot] postgres: %v", err)
	}
	defer db.Close()

	bus, err := streambus.New(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("[bot] redis: %v", err)
	}
	defer bus.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := bus.Ping(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("[bot] redis ping: %v", err)
	}
	cancelPing()

	api, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.Fatalf("[bot] telegram: %v", err)
	}
	logger.Info("authorized on telegram", "username", api.Self.UserName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chats := postgres.NewChatRepo(db)
	users := postgres.NewUserRepo(db)
	states := postgres.NewUserStateRepo(db)

	cache := policy.NewCache(chats, policy.DefaultTTL)
	cache.StartJanitor(ctx, time.Minute)

	engine := moderation.NewEngine(moderation.Deps{
		Policies: cache,
		Chats:    chats,
		States:   states,
		Deleter:  bot.NewMessageDeleter(api),
		Recorder: bot.NewDeletionRecorder(bus, cfg.Redis.DeletedTTL()),
		Tasks:    bot.NewTaskQueue(bus, cfg.Redis.TasksStream),
	}, cfg.Bot.GroupWorkers, cfg.Bot.QueueSize)
	engine.Start(ctx)

	svc := bot.NewService(api, chats, users, states, cache, engine)

	updates := make(chan tgbotapi.Update, 100)
	srv := startHTTP(cfg, api, engine, updates)

	if cfg.Bot.RunMode == config.RunModeWebhook {
		wh, err := tgbotapi.NewWebhook(cfg.Bot.WebhookURL + "/webhook/" + cfg.Bot.Token)
		if err != nil {
			log.Fatalf("[bot] webhook config: %v", err)
		}
		if _, err := api.Request(wh); err != nil {
			log.Fatalf("[bot] set webhook: %v", err)
		}
		logger.Info("webhook registered", "url", cfg.Bot.WebhookURL)
	} else {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		go func() {
			for update := range api.GetUpdatesChan(u) {
				updates <- update
			}
		}()
		logger.Info("polling for updates")
	}

	go func() {
		for update := range updates {
			svc.HandleUpdate(ctx, update)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[bot] shutting down...")
	api.StopReceivingUpdates()
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err.Error())
	}

	engine.Stop()
	if pipe != nil {
		pipe.Stop()
	}
	log.Println("[bot] stopped")
}

// startHTTP serves the health endpoint and, in webhook mode, the update
// receiver.
func startHTTP(cfg *config.Config, api *tgbotapi.BotAPI, engine *moderation.Engine, updates chan<- tgbotapi.Update) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.OK(w, map[string]interface{}{
			"status":  "ok",
			"service": "telegram-bot",
			"engine":  engine.Snapshot(),
		})
	})

	if cfg.Bot.RunMode == config.RunModeWebhook {
		r.Post("/webhook/"+cfg.Bot.Token, func(w http.ResponseWriter, req *http.Request) {
			update, err := api.HandleUpdate(req)
			if err != nil {
				http.Error(w, "bad update", http.StatusBadRequest)
				return
			}
			select {
			case updates <- *update:
			default:
				logger.Warn("update channel full, dropping webhook update")
			}
			w.WriteHeader(http.StatusOK)
		})
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Bot.Port),
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[bot] http server: %v", err)
		}
	}()
	return srv
}
