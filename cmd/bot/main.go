package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"snailbot/internal/ai"
	"snailbot/internal/config"
	"snailbot/internal/crypto"
	"snailbot/internal/hotspot"
	"snailbot/internal/limits"
	"snailbot/internal/metrics"
	"snailbot/internal/storage"
	"snailbot/internal/store"
	"snailbot/internal/summary"
	"snailbot/internal/telegram"
	"snailbot/internal/webapp"
)

const updateDedupeTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("admins", len(cfg.AdminUserIDs)).
		Msg("starting snailbot")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer registry.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	var sealer *crypto.Manager
	if cfg.MasterKeyID != "" {
		sealer, err = crypto.NewManager(cfg.MasterKeyID, cfg.MasterKeys)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize crypto manager")
		}
	} else {
		log.Warn().Msg("MASTER_KEY_B64 not set, config secrets cached unencrypted")
	}

	manager := config.NewManager(ctx, config.ManagerOptions{
		Redis:  rdb,
		Sealer: sealer,
		Logger: log.With().Str("component", "config").Logger(),
	})

	kv, err := store.NewFileKV(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open data directory")
	}
	messages, err := store.New(store.Config{
		KV:     kv,
		Logger: log.With().Str("component", "store").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize message store")
	}

	aiClient := ai.New(ai.Options{
		Config:      manager,
		HTTPClient:  &http.Client{Timeout: cfg.HTTP.ClientTimeout},
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.HTTP.BackoffBase,
		Logger:      log.With().Str("component", "ai").Logger(),
	})

	bot, err := gotgbot.NewBot(cfg.BotToken, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create telegram bot")
	}
	log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")

	m := metrics.Global()

	summaries := summary.New(summary.Config{
		Store:      messages,
		Summarizer: aiClient,
		Notifier:   telegram.Announcer{Bot: bot},
		Manager:    manager,
		Logger:     log.With().Str("component", "summary").Logger(),
		Metrics:    m,
	})

	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, cfg.BotToken))
	}
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		MaxRoutines:      100,
		UnhandledErrFunc: logTelegramErr,
		Processor: telegram.Processor{
			Dedupe:  limits.NewUpdateDeduplicator(rdb, updateDedupeTTL),
			Metrics: m,
			Logger:  log.Logger,
		},
	})
	service := telegram.NewService(telegram.Config{
		Messages:    messages,
		Registry:    registry,
		AI:          aiClient,
		Manager:     manager,
		Summaries:   summaries,
		DrawLimiter: limits.NewDailyLimiter(rdb, "draw"),
		Logger:      log.With().Str("component", "telegram").Logger(),
		Metrics:     m,
		AdminIDs:    cfg.AdminUserIDs,
	})
	service.Register(dispatcher)

	updater := ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
		UnhandledErrFunc: logTelegramErr,
	})
	if err := updater.StartPolling(bot, &ext.PollingOpts{
		EnableWebhookDeletion: true,
		DropPendingUpdates:    true,
		GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
			Timeout: 50,
			RequestOpts: &gotgbot.RequestOpts{
				Timeout: 60 * time.Second,
			},
		},
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to start polling")
	}
	log.Info().Msg("polling started")

	scheduler := summary.NewScheduler(log.With().Str("component", "scheduler").Logger())
	if manager.IsFeatureEnabled("auto_summary") {
		interval := manager.GetInt("features.auto_summary.interval_hours", 24)
		if interval < 1 {
			interval = 24
		}
		scheduler.Every(ctx, "auto_summary", time.Duration(interval)*time.Hour, summaries.RunScheduled)
	}
	if manager.IsFeatureEnabled("history_cleanup") {
		hour := manager.GetInt("features.history_cleanup.hour", 3)
		minute := manager.GetInt("features.history_cleanup.minute", 0)
		scheduler.DailyAt(ctx, "history_cleanup", hour, minute, summaries.RunRetention)
	}
	if manager.IsFeatureEnabled("hotspot_push") {
		hotspots := hotspot.New(hotspot.Config{
			Manager:    manager,
			Summarizer: aiClient,
			Notifier:   telegram.Announcer{Bot: bot},
			HTTPClient: &http.Client{Timeout: cfg.HTTP.ClientTimeout},
			Logger:     log.With().Str("component", "hotspot").Logger(),
			Metrics:    m,
		})
		schedule := manager.GetString("features.hotspot_push.push_schedule", "09:00")
		if hour, minute, err := hotspot.ParseSchedule(schedule); err != nil {
			log.Error().Err(err).Str("schedule", schedule).Msg("hotspot push not scheduled")
		} else {
			scheduler.DailyAt(ctx, "hotspot_push", hour, minute, hotspots.Run)
		}
	}
	keepalive := limits.NewKeepalive(rdb)
	scheduler.Every(ctx, "redis_keepalive", 30*time.Minute, func(ctx context.Context) {
		if err := keepalive.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("redis keepalive failed")
		}
	})

	admin := webapp.New(webapp.Config{
		Web:      cfg.Web,
		Manager:  manager,
		Registry: registry,
		Messages: messages,
		Redis:    rdb,
		Logger:   log.With().Str("component", "webapp").Logger(),
	})

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Web.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(cfg.Web.MetricsPath, promhttp.Handler())
	mux.Handle("/", admin.Router())

	httpServer := &http.Server{
		Addr:              cfg.Web.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Web.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := updater.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop updater")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
	scheduler.Wait()

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func sanitizeTelegramErr(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}

	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
		msg = strings.ReplaceAll(msg, "bot"+botID+"/", "bot<redacted>/")
	}
	return msg
}
