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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kaadipranav/lynex-sub000/internal/infra"
	"github.com/kaadipranav/lynex-sub000/internal/ingest"
	"github.com/kaadipranav/lynex-sub000/internal/queue"
	"github.com/kaadipranav/lynex-sub000/internal/storage/postgres"
)

func main() {
	// 1. Config and logger
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Infrastructure: Redis (queue + rate limits) and Postgres (api keys)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("postgres open failed", zap.Error(err))
	}
	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// 3. Metrics
	reg := prometheus.NewRegistry()
	metrics := infra.NewMetrics(reg)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 4. Gate assembly: key resolver (cached) → limiter → queue
	q, err := queue.NewStreamQueue(appCtx, rdb, cfg.Queue.Stream, cfg.Queue.Group, logger)
	if err != nil {
		logger.Fatal("queue init failed", zap.Error(err))
	}

	resolver := ingest.NewKeyCache(
		postgres.NewKeyRepo(db),
		cfg.Ingest.KeyCacheTTL,
		cfg.Ingest.KeyCacheNegTTL,
	)
	limiter := ingest.NewRedisLimiter(rdb, cfg.Ingest.RateWindow, logger)

	gate := ingest.NewGate(resolver, limiter, q, logger, metrics, ingest.Options{
		MaxBatchSize:       cfg.Ingest.MaxBatchSize,
		DefaultRatePerMin:  cfg.Ingest.DefaultRatePerMin,
		QueueHighWater:     cfg.Ingest.QueueHighWater,
		DepthProbeInterval: cfg.Ingest.DepthProbeInterval,
	})

	// 5. HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      ingest.NewServer(gate, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("ingest gate started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("ingest gate stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("ingest gate exited")
}
