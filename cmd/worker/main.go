package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"stratos.app/sendguard/common/id"
	"stratos.app/sendguard/common/logger"
	"stratos.app/sendguard/common/otel"
	"stratos.app/sendguard/core/config"
	"stratos.app/sendguard/core/db"
	"stratos.app/sendguard/internal/queue"
	"stratos.app/sendguard/internal/service"
	"stratos.app/sendguard/internal/store"
	"stratos.app/sendguard/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "sendguard worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Alerts.Group,
		"consumer_name", cfg.Alerts.Consumer)

	// Different node ID than the server so snowflake ids never collide.
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Alerts.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Alerts.Stream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Alerts.Stream,
		Group:        cfg.Alerts.Group,
		Consumer:     cfg.Alerts.Consumer,
		DLQStream:    cfg.Alerts.DLQStream,
		BatchSize:    10,
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	alertProducer := queue.NewRedisProducer(redisClient, cfg.Alerts.Stream, slog.Default())

	verifier, err := service.NewWebhookVerifier(workerWebhookSecret(cfg), cfg.Webhook.Tolerance)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize webhook verifier", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database.Pool())
	services := service.NewServices(stores, service.NewTxRunner(database), verifier, alertProducer, cfg, slog.Default())

	notifier := worker.NewNotifier(consumer, worker.NotifierConfig{
		MaxAttempts: 3,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Alerts.Stream,
		Group:     cfg.Alerts.Group,
		Consumer:  cfg.Alerts.Consumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, notifier.ProcessMessage)

	scheduler := worker.NewScheduler(
		services.RateLimits(),
		services.ProviderHealth(),
		services.Deliverability(),
		worker.SchedulerConfig{
			ProviderCheckInterval: time.Minute,
			DomainCheckInterval:   15 * time.Minute,
			CleanupInterval:       time.Hour,
		},
	)

	errCh := make(chan error, 3)
	go func() {
		errCh <- notifier.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()
	go func() {
		scheduler.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	scheduler.Stop()
	reclaimer.Stop()
	notifier.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			slog.ErrorContext(ctx, "worker stopped with error", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "worker shutdown complete")
}

func workerWebhookSecret(cfg config.Config) string {
	if cfg.Webhook.SigningSecret == "" {
		return "whsec_ZGV2ZWxvcG1lbnQtb25seQ=="
	}
	return cfg.Webhook.SigningSecret
}
