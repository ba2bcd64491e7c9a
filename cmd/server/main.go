package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/colconfig/internal/catalog"
	"github.com/JonMunkholm/colconfig/internal/config"
	"github.com/JonMunkholm/colconfig/internal/logging"
	"github.com/JonMunkholm/colconfig/internal/session"
	"github.com/JonMunkholm/colconfig/internal/store"
	"github.com/JonMunkholm/colconfig/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
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
		"database", cfg.Database.Enabled(),
		"session_max_open", cfg.Session.MaxOpen,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("catalog loaded",
		"types", len(cat.Types()),
		"roles", len(cat.Roles()),
		"required_roles", cat.RequiredRoles(),
	)

	ctx := context.Background()
	st, closeStore, err := openStore(ctx, cfg.Database, cat)
	if err != nil {
		slog.Error("failed to open configuration store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	sessions := session.NewManager(cat, cfg.Session.MaxOpen)
	server := web.NewServer(sessions, st, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	go sessions.StartSweeper(jobCtx, session.SweepConfig{
		IdleTimeout: cfg.Session.IdleTimeout,
		Interval:    cfg.Session.SweepInterval,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if open := sessions.Count(); open > 0 {
			slog.Info("discarding open sessions", "count", open)
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// openStore connects to PostgreSQL when a database URL is configured and
// falls back to the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.DatabaseConfig, cat *catalog.Catalog) (store.Submitter, func(), error) {
	if !cfg.Enabled() {
		slog.Warn("no database configured, submitted configurations are kept in memory")
		return store.NewMemoryStore(cat), func() {}, nil
	}

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	pg := store.NewPostgresStore(pool, cat)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}
