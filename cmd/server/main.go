// Package main provides the API server entry point for the dividends service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tao-dividends/internal/adapter"
	"github.com/tao-dividends/internal/api"
	"github.com/tao-dividends/internal/circuitbreaker"
	"github.com/tao-dividends/internal/config"
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

	if err := cfg.Validate(config.ForServer); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Redis backs both the cache and the task queue. The read path degrades
	// without it, so an unreachable server is only a warning here.
	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Redis client")
	}
	defer redisCache.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisCache.Ping(pingCtx); err != nil {
		logger.WithError(err).Warn("Redis unreachable, serving uncached until it recovers")
	}
	cancel()

	dividendCache := storage.NewDividendCache(redisCache, cfg.Cache.TTL, logger)
	dividendCache.SetObserver(m)
	taskQueue := storage.NewTaskQueue(redisCache, cfg.Worker.ResultTTL)

	ledger, err := adapter.NewSubstrateLedger(adapter.SubstrateConfig{
		Endpoint: cfg.Ledger.URL,
		PageSize: cfg.Ledger.PageSize,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create ledger client")
	}

	breakerCfg := circuitbreaker.DefaultConfig("ledger")
	breakerCfg.Logger = logger
	breakerCfg.OnStateChange = m.BreakerStateChanged
	breaker := circuitbreaker.NewCircuitBreaker(breakerCfg)

	engine := service.NewChainQueryEngine(ledger, cfg.Ledger.NumSubnets, logger,
		service.WithCircuitBreaker(breaker),
		service.WithEngineRecorder(m),
	)
	dividends := service.NewDividendQueryService(dividendCache, engine, cfg.Cache.TTL, logger)

	// Outcomes outlive the result store TTL only in the archive
	var archive api.OutcomeArchive
	if cfg.Database.Postgres.Enabled() {
		postgres, err := storage.NewPostgresDB(context.Background(), &cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Postgres")
		}
		defer postgres.Close()
		archive = storage.NewOutcomeRepository(postgres)
		logger.Info("Outcome archive reads enabled")
	}

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		APIToken:          cfg.Server.APIToken,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		DefaultNetUID:     cfg.Trade.DefaultNetUID,
		DefaultHotkey:     cfg.Trade.DefaultHotkey,
	}

	server := api.NewServer(serverConfig, api.Dependencies{
		Dividends: dividends,
		Jobs:      taskQueue,
		Archive:   archive,
		Enqueued:  m.JobsEnqueued,
		HTTP:      m,
		Gatherer:  registry,
		Logger:    logger,
	})

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":       cfg.Server.Host,
		"port":       cfg.Server.Port,
		"numSubnets": cfg.Ledger.NumSubnets,
		"cacheTTL":   cfg.Cache.TTL.String(),
	}).Info("API server ready")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	logger.Info("Server exited")
}
