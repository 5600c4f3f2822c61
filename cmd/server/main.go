package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/leadmeter/internal"
	"github.com/DukeRupert/leadmeter/internal/archive"
	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/handler"
	"github.com/DukeRupert/leadmeter/internal/identity"
	"github.com/DukeRupert/leadmeter/internal/metrics"
	"github.com/DukeRupert/leadmeter/internal/middleware"
	"github.com/DukeRupert/leadmeter/internal/policy"
	"github.com/DukeRupert/leadmeter/internal/ratelimit"
	"github.com/DukeRupert/leadmeter/internal/service"
	"github.com/DukeRupert/leadmeter/internal/storage"
	"github.com/DukeRupert/leadmeter/internal/tracking"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	clock := identity.SystemClock{}

	// ==========================================================================
	// Stores
	// ==========================================================================

	var (
		counterStore  ratelimit.CounterStore
		trackingStore tracking.Store
	)

	if cfg.DatabaseUrl != "" {
		db, err := sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		// Run migrations
		if err := internal.RunMigrations(ctx, db, logger); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database ready")

		counterStore = ratelimit.NewPostgresStore(db)
		trackingStore = tracking.NewPostgresStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		counterStore = ratelimit.NewMemoryStore()
		trackingStore = tracking.NewMemoryStore()
	}

	limiter := ratelimit.NewLimiter(counterStore, clock, logger, ratelimit.WithMaxRetries(cfg.CounterMaxRetries))
	go ratelimit.RunSweeper(ctx, counterStore, clock.Now, cfg.CounterSweepEvery, logger)

	// ==========================================================================
	// Services
	// ==========================================================================

	quotaPolicy := policy.Default()
	if cfg.QuotaPolicyFile != "" {
		quotaPolicy, err = policy.LoadFile(cfg.QuotaPolicyFile)
		if err != nil {
			return fmt.Errorf("quota policy: %w", err)
		}
		logger.Info("Quota policy loaded", "path", cfg.QuotaPolicyFile)
	}

	sink, eventArchive, err := newArchive(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	if s, ok := sink.(*archive.StorageSink); ok {
		defer s.Stop()
	}

	quotaService := service.NewQuotaService(quotaPolicy, limiter, logger)
	emailService := service.NewEmailTrackingService(
		trackingStore,
		tracking.NewInstrumentor(cfg.TrackingBaseURL),
		clock,
		eventArchive,
		logger,
	)

	ingestor := tracking.NewIngestor(trackingStore, sink, clock, logger)

	// ==========================================================================
	// Middleware and handlers
	// ==========================================================================

	isSecure := cfg.Env != "development"
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	callerMw := middleware.NewCallerMiddleware(identity.NewFingerprinter(cfg.FingerprintSalt), logger)
	quotaMw := middleware.NewQuotaMiddleware(quotaService, logger)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger)

	trackingHandler := handler.NewTrackingHandler(ingestor, tracking.MustPixel(), logger)
	quotaHandler := handler.NewQuotaHandler(quotaService, logger)
	emailHandler := handler.NewEmailHandler(emailService, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.MetricsUsername == "" && cfg.MetricsPassword == "" {
		logger.Warn("/metrics is unprotected, set METRICS_USERNAME and METRICS_PASSWORD")
	}
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Tracking callbacks (public, hit by mail clients)
	trackingLimit := middleware.TrackingRateLimit(
		cfg.TrackingRateLimitPerMin,
		http.HandlerFunc(trackingHandler.Degraded),
		logger,
	)
	trackingHandler.RegisterRoutes(mux, trackingLimit)

	// API routes
	requireCaller := middleware.Stack(
		middleware.APIRateLimit(cfg.APIRateLimitPerMin, logger),
		middleware.RequireCaller,
	)
	quotaHandler.RegisterRoutes(mux, requireCaller)
	emailHandler.RegisterRoutes(mux, requireCaller, quotaMw.Gate(domain.ActionEmailSend))

	// The caller is resolved before logging so request logs carry user_id.
	// Metrics sit next to the mux to see the matched pattern.
	root := middleware.Stack(
		securityMw.Handler,
		callerMw.Handler,
		loggingMw.Handler,
		metrics.Middleware,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "tracking_base", cfg.TrackingBaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	// Stops the sweeper; the archive sink flushes in its deferred Stop
	stop()

	logger.Info("Graceful shutdown complete")
	return nil
}

// newArchive returns a started StorageSink and a reader over the same
// storage when archiving is enabled, and a NopSink with no reader otherwise.
func newArchive(ctx context.Context, cfg *internal.Config, clock identity.Clock, logger *slog.Logger) (archive.Sink, service.EventArchive, error) {
	if !cfg.ArchiveEnabled {
		return archive.NopSink{}, nil, nil
	}

	var (
		store storage.Storage
		err   error
	)
	switch cfg.StorageProvider {
	case "r2":
		store, err = storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Region:          "auto",
			Endpoint:        cfg.R2Endpoint,
		}, logger)
	default:
		store, err = storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
		}, logger)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("archive storage initialization failed: %w", err)
	}

	archiveCfg := archive.DefaultConfig()
	archiveCfg.BatchSize = cfg.ArchiveBatchSize
	archiveCfg.BufferSize = cfg.ArchiveBufferSize
	archiveCfg.FlushInterval = cfg.ArchiveFlushInterval

	sink, err := archive.NewStorageSink(store, clock, archiveCfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("archive initialization failed: %w", err)
	}
	sink.Start(ctx)

	logger.Info("Engagement archive enabled",
		"provider", cfg.StorageProvider,
		"batch_size", archiveCfg.BatchSize,
		"flush_interval", archiveCfg.FlushInterval,
	)
	return sink, archive.NewReader(store), nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
