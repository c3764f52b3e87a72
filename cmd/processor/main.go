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

	"github.com/kaadipranav/lynex-sub000/internal/alert"
	"github.com/kaadipranav/lynex-sub000/internal/enrich"
	"github.com/kaadipranav/lynex-sub000/internal/infra"
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

	// 2. Infrastructure
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

	// 4. Alert evaluator: rule snapshot + shared windows + webhook dispatch
	var notifier alert.Notifier
	if cfg.Alerts.WebhookURL != "" {
		notifier = alert.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookTimeout, logger, metrics)
	} else {
		logger.Warn("no webhook configured, alert notifications are log-only")
		notifier = alert.NewLogNotifier(logger)
	}

	evaluator := alert.NewEvaluator(
		postgres.NewRuleRepo(db),
		alert.NewRedisWindowStore(rdb),
		notifier,
		logger,
		metrics,
		alert.Options{
			RefreshInterval: cfg.Alerts.RefreshInterval,
			WindowSize:      cfg.Alerts.WindowSize,
		},
	)
	go evaluator.Run(appCtx)
	go alert.ListenRuleUpdates(appCtx, rdb, logger, infra.RedisChanRulesUpdated, evaluator.Refresh)

	// 5. Queue consumer
	q, err := queue.NewStreamQueue(appCtx, rdb, cfg.Queue.Stream, cfg.Queue.Group, logger)
	if err != nil {
		logger.Fatal("queue init failed", zap.Error(err))
	}

	pricing := enrich.NewPriceTable(pricingOverrides(cfg.Pricing), enrich.Rates{
		InputPerMTok:  cfg.Pricing.DefaultInputPerMTok,
		OutputPerMTok: cfg.Pricing.DefaultOutputPerMTok,
	})

	processor := enrich.NewProcessor(
		q,
		postgres.NewEventRepo(db),
		evaluator,
		pricing,
		logger,
		metrics,
		enrich.Options{
			Consumer:        cfg.Processor.Consumer,
			Workers:         cfg.Processor.Workers,
			BatchSize:       cfg.Processor.BatchSize,
			BlockTimeout:    cfg.Processor.BlockTimeout,
			ReclaimInterval: cfg.Processor.ReclaimInterval,
			ReclaimMinIdle:  cfg.Processor.ReclaimMinIdle,
		},
	)

	done := make(chan struct{})
	go func() {
		processor.Run(appCtx)
		close(done)
	}()

	// 6. Graceful shutdown: stop intake, let in-flight deliveries finish
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("processor stopping...")
	cancel()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("drain timeout, exiting with deliveries pending")
	}
	logger.Info("processor exited")
}

func pricingOverrides(cfg infra.PricingConfig) map[string]enrich.Rates {
	if len(cfg.Models) == 0 {
		return nil
	}
	out := make(map[string]enrich.Rates, len(cfg.Models))
	for name, r := range cfg.Models {
		out[name] = enrich.Rates{InputPerMTok: r.InputPerMTok, OutputPerMTok: r.OutputPerMTok}
	}
	return out
}
