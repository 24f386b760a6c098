// cmd/pipeline/main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	feedAdapter "medwarehouse/internal/adapter/feed"
	"medwarehouse/internal/adapter/storage"
	"medwarehouse/internal/config"
	"medwarehouse/internal/domain/warehouse"
	"medwarehouse/internal/server"
	"medwarehouse/internal/service/pipeline"
)

func main() {
	// Load .env if present; real deployments set the environment
	// directly.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Environment)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Initialize dependencies
	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := storage.EnsureSchema(ctx, db); err != nil {
		logger.Fatalf("Failed to bootstrap warehouse schema: %v", err)
	}

	natsConn, err := initNATS(cfg.NATS, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsConn.Close()

	// Initialize storage adapters
	rawStore := storage.NewRawStore(db)
	warehouseStore := storage.NewWarehouseStore(db)

	// Initialize feed adapters
	collector := feedAdapter.NewFileCollector(cfg.Feed.MessagesDir)
	enricher := feedAdapter.NewFileEnricher(cfg.Feed.DetectionsDir)

	// Initialize transformation services
	loader := pipeline.NewLoader(
		collector,
		enricher,
		rawStore,
		pipeline.LoaderConfig{
			MaxTextLength: cfg.Feed.MaxTextLength,
			FullRefresh:   cfg.Pipeline.FullRefresh,
		},
		logger,
	)

	dimensionBuilder := pipeline.NewDimensionBuilder(
		rawStore,
		warehouseStore,
		pipeline.DimensionConfig{
			Rules: []warehouse.ClassificationRule{
				{ChannelType: "pharmaceutical", Keywords: cfg.Warehouse.PharmaKeywords},
				{ChannelType: "cosmetics", Keywords: cfg.Warehouse.CosmeticKeywords},
			},
			HighActivityMin:   cfg.Warehouse.HighActivityMin,
			MediumActivityMin: cfg.Warehouse.MediumActivityMin,
			DateHorizonStart:  cfg.Warehouse.DateHorizonStart,
			DateHorizonEnd:    cfg.Warehouse.DateHorizonEnd,
		},
		logger,
	)

	factBuilder := pipeline.NewFactBuilder(rawStore, warehouseStore, logger)

	scheduler := pipeline.NewScheduler(
		pipeline.Stages(loader, dimensionBuilder, factBuilder),
		warehouseStore,
		pipeline.SchedulerConfig{
			MaxAttempts:  cfg.Pipeline.MaxAttempts,
			BackoffBase:  cfg.Pipeline.BackoffBase,
			BackoffMax:   cfg.Pipeline.BackoffMax,
			StageTimeout: cfg.Pipeline.StageTimeout,
			EventsTopic:  cfg.Pipeline.EventsTopic,
		},
		natsConn,
		logger,
	)

	// Scheduled runs
	if cfg.Pipeline.RunInterval > 0 {
		go runOnSchedule(ctx, scheduler, cfg.Pipeline.RunInterval, logger)
	}

	// Initialize HTTP server
	httpServer := server.NewServer(
		cfg.Server,
		scheduler,
		warehouseStore,
		warehouseStore,
	)

	// Start HTTP server
	go func() {
		logger.Infof("Starting HTTP server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	logger.Info("Shutdown signal received")
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	logger.Info("Shutdown complete")
}

// newLogger builds the process logger. Production emits JSON for log
// shipping; everything else stays human readable.
func newLogger(environment string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetLevel(logrus.DebugLevel)
	}

	return logger
}

// runOnSchedule triggers a pipeline run every interval until the
// context is cancelled. A run that overlaps the next tick is skipped by
// the scheduler's lock, not queued.
func runOnSchedule(ctx context.Context, scheduler *pipeline.Scheduler, interval time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := scheduler.Run(ctx, "scheduled"); err != nil {
				if errors.Is(err, pipeline.ErrRunInProgress) {
					logger.Warn("Skipping scheduled run, another run is in progress")
					continue
				}
				logger.WithError(err).Error("Scheduled pipeline run failed")
			}
		}
	}
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, logger *logrus.Logger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warnf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
