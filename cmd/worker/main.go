package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solstake/service/config"
	"github.com/brojonat/solstake/service/metrics"
	natspkg "github.com/brojonat/solstake/service/nats"
	"github.com/brojonat/solstake/service/redis"
	"github.com/brojonat/solstake/service/solana"
	"github.com/brojonat/solstake/service/stake"
	"github.com/brojonat/solstake/service/temporal"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()

	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry
	logger.Info("Prometheus metrics collector initialized")

	// Start metrics HTTP server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	var remote solana.BlockTimeStore
	if cfg.RedisURL != "" {
		store, err := redis.NewBlockTimeStore(cfg.RedisURL, 0)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		remote = store
	}
	blockTimes, err := solana.NewBlockTimeCache(cfg.BlockTimeCacheSize, remote, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create block time cache", "error", err)
		os.Exit(1)
	}

	// Reports are stateless rebuilds from the ledger; no websocket needed.
	ledger, _, err := solana.Dial(solana.DialConfig{
		Endpoints:       cfg.SolanaRPCURLs,
		Commitment:      rpc.CommitmentType(cfg.SolanaCommitment),
		RateLimit:       cfg.RPCRateLimit,
		RateBurst:       cfg.RPCRateBurst,
		BlockTimes:      blockTimes,
		RewardCacheSize: cfg.RewardCacheSize,
	}, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create solana client", "error", err)
		os.Exit(1)
	}

	// Initialize NATS publisher
	var publisher temporal.ReportPublisher
	if cfg.NATSEnabled {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// Initialize Temporal worker
	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Ledger:            ledger,
		Publisher:         publisher,
		RewardBatchSize:   cfg.RewardBatchSize,
		BlockTimeBackoff: stake.Backoff{
			MaxAttempts: cfg.BlockTimeMaxAttempts,
			Delay:       stake.FixedDelay(cfg.BlockTimeRetryDelay),
			Sleep:       stake.SleepContext,
		},
		Metrics: metricsCollector,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"total_endpoints", len(cfg.SolanaRPCURLs),
		"temporal_host", cfg.TemporalHost,
		"temporal_namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop worker gracefully
		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")

		logger.Info("shutdown complete")
	}
}
