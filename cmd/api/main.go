// Package main is the entry point for the time and billing ledger API.
//
// It loads the configuration, connects the PostgreSQL pool, wires the
// repositories and domain services, mounts the HTTP routes, and runs a
// standard HTTP server with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taxledger/internal/api/handlers"
	"taxledger/internal/config"
	"taxledger/internal/core"
	"taxledger/internal/db"
	"taxledger/internal/external"
	"taxledger/internal/ledger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("taxledger API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	pool, err := newPool(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}

	// Repositories and transactional stores, all backed by the same pool.
	planRepo := db.NewPlanConfigRepo(pool)
	assignmentRepo := db.NewPlanAssignmentRepo(pool)
	entryRepo := db.NewTimeEntryRepo(pool)
	timerRepo := db.NewActiveTimerRepo(pool)
	invoiceRepo := db.NewInvoiceRepo(pool)
	recordLedger := db.NewRecordLedger(pool, pool)
	assignLedger := db.NewAssignLedger(pool)

	documentsClient := external.NewDocumentsClient(
		&http.Client{Timeout: cfg.Documents.Timeout},
		external.DocumentsClientConfig{
			BaseURL: cfg.Documents.BaseURL,
			APIKey:  cfg.Documents.APIKey.Unmask(),
			Logger:  logger,
		},
	)

	// Domain services.
	recorder := ledger.NewTimeRecorder(recordLedger, recordLedger, logger, cfg.Ledger.RecordAttempts)
	planService := ledger.NewPlanService(planRepo, assignLedger, assignmentRepo, logger)
	timerService := ledger.NewTimerService(timerRepo, recorder, logger)
	invoiceService := ledger.NewInvoiceService(invoiceRepo, entryRepo, recordLedger, documentsClient, logger, cfg.Ledger.InvoiceListLimit)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	srv.HealthProbes = append(srv.HealthProbes, &databaseProbe{pool: pool})
	srv.OnShutdown(func(_ context.Context) error {
		pool.Close()
		return nil
	})

	timeEntryHandler := handlers.NewTimeEntryHandler(recorder, entryRepo, srv.Validator, logger)
	timerHandler := handlers.NewTimerHandler(timerService, logger)
	planHandler := handlers.NewPlanHandler(planService, srv.Validator, logger)
	invoiceHandler := handlers.NewInvoiceHandler(invoiceService, srv.Validator, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { timeEntryHandler.RegisterRoutes(r) },
		func(r chi.Router) { timerHandler.RegisterRoutes(r) },
		func(r chi.Router) { planHandler.RegisterRoutes(r) },
		func(r chi.Router) { invoiceHandler.RegisterRoutes(r) },
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newPool builds the pgx connection pool from the database configuration and
// verifies connectivity before the server accepts traffic.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// runHTTPServer starts the server with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// databaseProbe reports database liveness for GET /health.
type databaseProbe struct {
	pool *pgxpool.Pool
}

func (p *databaseProbe) Name() string { return "database" }

func (p *databaseProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
