// cmd/executor runs the three long-lived loops that turn an ingested
// event into delivered side effects: the fan-out consumer (rule match +
// job insert), the job executor (EMAIL/WEBHOOK delivery), and the retry
// scanner (FAILED-job resweep + stale-PROCESSING janitor). All three
// share one DB pool and one broker connection; each failing independently
// just stops its own loop rather than the whole process, since they have
// no shared mutable state beyond the pool and the connection.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sooh59599/zoohub/internal/broker"
	"github.com/sooh59599/zoohub/internal/config"
	"github.com/sooh59599/zoohub/internal/executor"
	"github.com/sooh59599/zoohub/internal/fanout"
	"github.com/sooh59599/zoohub/internal/notifications"
	"github.com/sooh59599/zoohub/internal/observability"
	"github.com/sooh59599/zoohub/internal/queue/redisclient"
	"github.com/sooh59599/zoohub/internal/queue/worker"
	"github.com/sooh59599/zoohub/internal/repo/postgres"
	"github.com/sooh59599/zoohub/internal/retryscanner"
	"github.com/sooh59599/zoohub/internal/rulescache"
	"github.com/sooh59599/zoohub/internal/webhook"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(context.Background(), "zoohub-executor", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("otel init failed: %v", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(observability.NewTraceHandler(base))
	slog.SetDefault(logger)

	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		logger.ErrorContext(ctx, "db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	brk := broker.New(cfg.RabbitURL, cfg.Prefetch, cfg.Broker)
	if err := brk.ConnectWithRetry(ctx, 10); err != nil {
		logger.ErrorContext(ctx, "broker connect failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = brk.Close() }()

	jobsRepo := postgres.NewJobsRepo(pool, prom)
	rulesRepo := postgres.NewRulesRepo(pool, prom)
	circuitRepo := postgres.NewCircuitRepo(pool, prom)

	redis := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	rulesCache := rulescache.New(rulesRepo, time.Duration(cfg.RulesCacheTTLSeconds)*time.Second, redis)
	go rulesCache.Listen(ctx)

	notifier := notifications.NewLogNotifier()

	caller := webhook.NewCaller(webhook.Config{
		Timeout:          time.Duration(cfg.WebhookTimeoutSeconds) * time.Second,
		MaxRetries:       cfg.WebhookMaxRetries,
		BackoffBase:      time.Duration(cfg.WebhookRetryBackoffBase * float64(time.Second)),
		SigningSecret:    cfg.WebhookSigningSecret,
		SignatureHeader:  cfg.WebhookSignatureHeader,
		TimestampHeader:  cfg.WebhookTimestampHeader,
		SignatureAlg:     cfg.WebhookSignatureAlg,
		FailureThreshold: cfg.CBFailureThreshold,
	}, circuitRepo)

	jobMetrics := observability.NewJobMetrics()

	fanoutConsumer := fanout.NewConsumer(pool, brk, jobsRepo, rulesCache, cfg.MaxAttemptsDefault, logger)
	exec := executor.New(brk, jobsRepo, notifier, caller, jobMetrics, time.Duration(cfg.RetryBackoffSeconds)*time.Second, logger)
	scanner := retryscanner.New(jobsRepo, brk, time.Duration(cfg.RetryScanIntervalSeconds)*time.Second, time.Duration(cfg.StaleProcessingSeconds)*time.Second, logger)

	health := worker.NewHealthServer()

	healthAddr := cfg.WorkerHealthAddr
	if healthAddr == "" {
		healthAddr = ":8081"
	}
	healthSrv := &http.Server{
		Addr:              healthAddr,
		Handler:           health.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.InfoContext(ctx, "executor.health_listen", "addr", healthAddr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorContext(ctx, "executor.health_failed", "err", err)
		}
	}()

	go func() {
		if err := fanoutConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "fanout.run_failed", "err", err)
		}
	}()
	go func() {
		if err := exec.Run(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "executor.run_failed", "err", err)
		}
	}()
	go scanner.Run(ctx)

	logger.InfoContext(ctx, "executor.start")

	<-ctx.Done()
	health.SetReady(false)
	logger.InfoContext(context.Background(), "executor.shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	logger.InfoContext(context.Background(), "executor.shutdown_complete")
}
