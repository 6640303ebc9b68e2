// Package main provides the background worker that consumes sentiment trade jobs.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tao-dividends/internal/adapter"
	"github.com/tao-dividends/internal/config"
	"github.com/tao-dividends/internal/job"
	"github.com/tao-dividends/internal/logging"
	"github.com/tao-dividends/internal/metrics"
	"github.com/tao-dividends/internal/service"
	"github.com/tao-dividends/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(config.ForWorker); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// The queue lives in Redis, so the worker cannot start without it
	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Redis client")
	}
	defer redisCache.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisCache.Ping(pingCtx)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	taskQueue := storage.NewTaskQueue(redisCache, cfg.Worker.ResultTTL)

	var archive job.Archive
	if cfg.Database.Postgres.Enabled() {
		postgres, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer postgres.Close()
		archive = storage.NewOutcomeRepository(postgres)
		logger.Info("Outcome archive enabled")
	}

	ledger, err := adapter.NewSubstrateLedger(adapter.SubstrateConfig{
		Endpoint: cfg.Ledger.URL,
		PageSize: cfg.Ledger.PageSize,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create ledger client")
	}

	searchClient := adapter.NewSearchClient(cfg.Signal.APIKey, cfg.Signal.BaseURL, cfg.Signal.Timeout)
	completionClient := adapter.NewCompletionClient(cfg.Scoring.APIKey, cfg.Scoring.BaseURL, cfg.Scoring.Timeout)

	dispatcher := service.NewTradeDecisionDispatcher(
		service.NewSignalCollector(searchClient, cfg.Signal.Limit),
		service.NewSentimentScorer(completionClient, cfg.Scoring.Model),
		ledger,
		m,
		logger,
	)

	pool, err := job.NewPool(&job.PoolConfig{
		Queue:      taskQueue,
		Executor:   dispatcher,
		Archive:    archive,
		Activity:   m.JobsActive,
		Workers:    cfg.Worker.Concurrency,
		JobTimeout: cfg.Worker.JobTimeout,
		Logger:     logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create job pool")
	}

	var metricsServer *http.Server
	if cfg.Worker.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics listener stopped")
			}
		}()
	}

	if err := pool.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start job pool")
	}
	go job.MonitorDepth(ctx, taskQueue, m.QueueDepth, job.DefaultDepthInterval, logger)

	logger.WithFields(map[string]interface{}{
		"concurrency": cfg.Worker.Concurrency,
		"jobTimeout":  cfg.Worker.JobTimeout.String(),
		"queue":       taskQueue.QueueKey(),
	}).Info("Worker ready")

	<-ctx.Done()
	logger.Info("Shutting down worker")

	pool.Stop()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	logger.WithField("processed", pool.Processed()).Info("Worker exited")
}
