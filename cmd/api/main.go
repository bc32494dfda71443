package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sooh59599/zoohub/internal/broker"
	"github.com/sooh59599/zoohub/internal/config"
	"github.com/sooh59599/zoohub/internal/db"
	httpx "github.com/sooh59599/zoohub/internal/http"
	"github.com/sooh59599/zoohub/internal/observability"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := observability.NewLogger(cfg.Env)

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		log.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	seedCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := db.EnsureAdminUser(seedCtx, pool, cfg); err != nil {
		cancel()
		log.Error("failed to seed admin user", "err", err)
		os.Exit(1)
	}
	cancel()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	brk := broker.New(cfg.RabbitURL, cfg.Prefetch, cfg.Broker)
	if err := brk.ConnectWithRetry(ctx, 10); err != nil {
		log.Error("broker connect failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = brk.Close() }()

	router := httpx.NewRouter(log, pool, brk, prom, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownContext, cancelFunc := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFunc()

	if err := srv.Shutdown(shutdownContext); err != nil {
		log.Error("server graceful shutdown failed", "err", err)
		_ = srv.Close()
	} else {
		log.Info("server stopped gracefully.")
	}
}
