package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-chatbot/internal/api"
	"whatsapp-chatbot/internal/automation"
	"whatsapp-chatbot/internal/config"
	"whatsapp-chatbot/internal/database"
	"whatsapp-chatbot/internal/locker"
	"whatsapp-chatbot/internal/logging"
	"whatsapp-chatbot/internal/queue"
	"whatsapp-chatbot/internal/scheduler"
	"whatsapp-chatbot/internal/webhook"
	"whatsapp-chatbot/internal/whatsapp"
	"whatsapp-chatbot/internal/ws"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	if envErr != nil {
		logger.Warn("no .env file loaded, using process environment", zap.Error(envErr))
	}

	db, err := database.Open(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sessionLocker automation.Locker
	if cfg.RedisURL != "" {
		rdb, err := locker.Dial(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		sessionLocker = locker.NewRedisLocker(rdb, cfg.LockTTL, logger)
		logger.Info("using redis session locks")
	} else {
		sessionLocker = locker.NewKeyedMutex()
	}

	rules := automation.NewCachedRuleStore(database.NewRuleStore(db), cfg.RuleCacheTTL)
	sessions := database.NewSessionStore(db)
	interactions := database.NewInteractionStore(db)

	whatsappClient := whatsapp.NewClient(cfg, db, logger)
	if !cfg.WhatsAppReady() {
		logger.Warn("WhatsApp credentials missing, replies will not be delivered")
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	engine := automation.NewEngine(rules, sessions, interactions, whatsappClient, logger, automation.Options{
		Timeout:  cfg.DispatchTimeout,
		Retries:  cfg.DispatchRetries,
		Locker:   sessionLocker,
		Notifier: hub,
	})

	pool := queue.NewPool(cfg.WorkerCount, cfg.QueueSize, func(ctx context.Context, ev queue.Event) {
		engine.HandleInboundMessage(automation.WithEventID(ctx, ev.ID), ev.ContactID, ev.Text)
	}, logger)
	pool.Start(ctx)

	sweeper := scheduler.New(sessions, cfg.SessionSweepSchedule, cfg.SessionIdleTimeout, logger)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("failed to start session sweeper", zap.Error(err))
	}

	router := api.NewRouter(api.Deps{
		DB:       db,
		Cache:    rules,
		Sessions: sessions,
		Sender:   whatsappClient,
		Webhook:  webhook.NewHandler(cfg, db, pool, hub, logger),
		LiveFeed: hub.ServeWs,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("server starting", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	// Webhooks have stopped arriving; drain queued turns before closing.
	sweeper.Stop()
	pool.Stop()
	cancel()
	logger.Info("server stopped")
}
