package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tap_tycoon_backend/internal/api"
	"tap_tycoon_backend/internal/bot"
	"tap_tycoon_backend/internal/repository"
	"tap_tycoon_backend/internal/scheduler"
	"tap_tycoon_backend/internal/service"
	"tap_tycoon_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	err = logger.Initialize(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zapLogger := logger.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg); err != nil {
		zapLogger.Fatal("Server stopped with error", zap.Error(err))
	}

	zapLogger.Info("Server stopped")
}

func run(ctx context.Context, cfg *Config) error {
	zapLogger := logger.Logger()

	repo, err := repository.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			zapLogger.Error("Failed to close repository", zap.Error(err))
		}
	}()

	tg, err := bot.NewAPI(cfg.Telegram)
	if err != nil {
		return err
	}
	sender := bot.NewSender(tg, cfg.Telegram.WebAppURL)

	feed := service.NewReferralFeed()
	rewards := cfg.Rewards.Table()
	svc := service.NewService(
		service.NewReferralService(repo, rewards, feed),
		service.NewClaimService(repo, rewards, feed),
		service.NewReminderService(repo, sender, cfg.Notifications.ReminderConfig()),
	)

	dispatcher, err := bot.NewDispatcher(svc, sender)
	if err != nil {
		return err
	}

	deps := api.RouterDeps{
		Referrals: svc,
		Claims:    svc,
		Feed:      feed,
	}

	g, gctx := errgroup.WithContext(ctx)

	switch cfg.Telegram.Mode {
	case bot.ModeWebhook:
		if err = bot.RegisterWebhook(tg, cfg.Telegram); err != nil {
			return err
		}
		deps.Updates = dispatcher
		deps.WebhookSecret = cfg.Telegram.WebhookSecret
	case bot.ModePolling:
		if err = bot.DeleteWebhook(tg); err != nil {
			return err
		}
		poller := bot.NewPoller(tg, dispatcher)
		g.Go(func() error {
			return poller.Run(gctx)
		})
	}

	sched := scheduler.New()
	sched.Register(cfg.Notifications.Schedule, scheduler.NewReminderJob(svc))
	g.Go(func() error {
		return sched.Run(gctx)
	})

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		zapLogger.Info("Starting server",
			zap.String("addr", srv.Addr),
			zap.String("bot_mode", cfg.Telegram.Mode),
			zap.String("database", cfg.Database.Driver))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		zapLogger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
