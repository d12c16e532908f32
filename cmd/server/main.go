package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/soundledger/soundledger/internal/config"
	"github.com/soundledger/soundledger/internal/logging"
	"github.com/soundledger/soundledger/internal/objstore"
	"github.com/soundledger/soundledger/internal/royalty"
	"github.com/soundledger/soundledger/internal/store"
	"github.com/soundledger/soundledger/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"ingest_max_concurrent_runs", cfg.Ingest.MaxConcurrentRuns,
		"storage_backend", cfg.Storage.Backend,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	// Source object storage
	var source royalty.SourceStore
	switch cfg.Storage.Backend {
	case "gcs":
		gcs, err := objstore.NewGCSStore(ctx, cfg.Storage.Bucket)
		if err != nil {
			slog.Error("failed to create GCS store", "error", err)
			os.Exit(1)
		}
		defer gcs.Close()
		source = gcs
	default:
		source = objstore.NewFileStore(cfg.Storage.Root)
	}

	pipeline := royalty.NewPipeline(royalty.Stores{
		Tracks:    st.Tracks,
		Records:   st.Records,
		Summaries: st.Summaries,
		Source:    source,
		Runs:      st.Runs,
	}, royalty.BatchConfig{
		BatchSize:      cfg.Ingest.BatchSize,
		MaxConcurrency: cfg.Ingest.MaxConcurrency,
		RetryAttempts:  cfg.Ingest.RetryAttempts,
		BackoffBase:    cfg.Ingest.BackoffBase,
	})

	service := royalty.NewService(pipeline, royalty.ServiceConfig{
		MaxConcurrentRuns: cfg.Ingest.MaxConcurrentRuns,
		SlotWaitTimeout:   cfg.Ingest.SlotWaitTimeout,
		RunTimeout:        cfg.Ingest.RunTimeout,
	})

	// Create server with config
	server := web.NewServer(cfg, service, st.Summaries)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active ingestion runs to settle (with timeout)
		if active := service.ActiveRuns(); active > 0 {
			slog.Info("waiting for ingestion runs to complete", "active", active)
			if err := service.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("ingestion runs did not complete in time", "error", err)
			} else {
				slog.Info("all ingestion runs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
