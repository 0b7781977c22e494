package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solstake/service/config"
	"github.com/brojonat/solstake/service/metrics"
	natspkg "github.com/brojonat/solstake/service/nats"
	"github.com/brojonat/solstake/service/redis"
	"github.com/brojonat/solstake/service/server"
	"github.com/brojonat/solstake/service/solana"
	"github.com/brojonat/solstake/service/stake"
	"github.com/brojonat/solstake/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
)

// Optimistic inserts wait up to 5 x 600ms for the new account to appear.
const (
	confirmAttempts = 5
	confirmDelay    = 600 * time.Millisecond
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Block times are shared across processes when Redis is configured.
	var remote solana.BlockTimeStore
	if cfg.RedisURL != "" {
		store, err := redis.NewBlockTimeStore(cfg.RedisURL, 0)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		remote = store
		logger.Info("using redis block time cache")
	}
	blockTimes, err := solana.NewBlockTimeCache(cfg.BlockTimeCacheSize, remote, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create block time cache", "error", err)
		os.Exit(1)
	}

	// Initialize Solana RPC client
	// Note: For premium RPC endpoints, include API key in the URL
	commitment := rpc.CommitmentType(cfg.SolanaCommitment)
	ledger, endpoint, err := solana.Dial(solana.DialConfig{
		Endpoints:       cfg.SolanaRPCURLs,
		Commitment:      commitment,
		RateLimit:       cfg.RPCRateLimit,
		RateBurst:       cfg.RPCRateBurst,
		BlockTimes:      blockTimes,
		RewardCacheSize: cfg.RewardCacheSize,
	}, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create solana client", "error", err)
		os.Exit(1)
	}

	// Initialize websocket subscriptions
	wsURL := cfg.SolanaWSURL
	if wsURL == "" {
		if wsURL, err = solana.WebsocketURL(endpoint); err != nil {
			logger.Error("failed to derive websocket URL", "error", err)
			os.Exit(1)
		}
	}
	subscriber, err := solana.NewWSSubscriber(ctx, wsURL, commitment, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to connect to solana websocket", "error", err)
		os.Exit(1)
	}
	defer subscriber.Close()

	// Initialize NATS publisher and the SSE bridge reading it back
	var notifier stake.Notifier
	var stream server.EventStream
	if cfg.NATSEnabled {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		notifier = natspkg.NewNotifier(publisher)

		sse, err := server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		stream = sse
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS disabled, session events will not be published")
	}

	// Initialize Temporal client for report schedules
	var scheduler temporal.Scheduler
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Warn("temporal unavailable, stake reports will not be scheduled", "error", err)
	} else {
		defer temporalClient.Close()
		scheduler = temporalClient
		logger.Info("connected to temporal",
			"host", cfg.TemporalHost,
			"namespace", cfg.TemporalNamespace,
		)
	}

	backoff := stake.Backoff{
		MaxAttempts: cfg.BlockTimeMaxAttempts,
		Delay:       stake.FixedDelay(cfg.BlockTimeRetryDelay),
		Sleep:       stake.SleepContext,
	}

	registry := server.NewRegistry(func(owner solanago.PublicKey) (*stake.Session, error) {
		return stake.NewSession(stake.SessionConfig{
			Owner:            owner,
			Ledger:           ledger,
			Feed:             subscriber,
			Notifier:         notifier,
			RewardBatchSize:  cfg.RewardBatchSize,
			BlockTimeBackoff: backoff,
			ConfirmAttempts:  confirmAttempts,
			ConfirmDelay:     confirmDelay,
			Metrics:          metricsCollector,
			Logger:           logger,
		})
	}, logger)

	resolver := stake.NewBlockTimeResolver(ledger, backoff, metricsCollector, logger)
	epochs := stake.NewEpochTracker(stake.NewEpochEstimator(ledger, resolver, logger))

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, registry, epochs, scheduler, cfg.ReportInterval, stream, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"solana_endpoint", solana.EndpointLabel(endpoint),
		"nats_enabled", cfg.NATSEnabled,
		"temporal_host", cfg.TemporalHost,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}
