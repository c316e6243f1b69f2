/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the church treasury server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and environment configuration
  2. Apply command-line flag overrides, validate
  3. Initialize logger, tracer and metrics
  4. Open the SQLite store
  5. Wire ledger, report and closing services
  6. Optionally seed demo data, start the reconcile scheduler
  7. Serve HTTP until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database
  -env     Path of the .env file (default: .env)

ENVIRONMENT:
  See config/config.go. JWT_SECRET is required.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, flush traces
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/church-treasury/api"
	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/closing"
	"github.com/warp/church-treasury/config"
	"github.com/warp/church-treasury/ledger"
	"github.com/warp/church-treasury/observability"
	"github.com/warp/church-treasury/report"
	"github.com/warp/church-treasury/store/sqlite"
)

const serviceName = "church-treasury"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	envFile := flag.String("env", ".env", "Path of the .env file")
	port := flag.Int("port", 0, "HTTP server port (overrides PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}
	cfg := config.Load()
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, serviceName)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	metrics := observability.NewMetrics()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Services
	funds := ledger.NewFunds(store, logger.Named("ledger"), metrics)
	txs := ledger.NewTransactions(store, logger.Named("ledger"), metrics)
	generator := report.NewGenerator(funds, txs, cfg.GeneralFundPerChurch, logger.Named("generator"))
	reports := report.NewService(store, generator, report.Config{DepositTolerance: cfg.DepositTolerance},
		logger.Named("report"), metrics)
	churches := report.NewChurches(store)
	closings := closing.NewService(store, logger.Named("closing"))

	if cfg.DemoSeed {
		if err := api.Seed(context.Background(), churches, funds, cfg.GeneralFundPerChurch, logger); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	handler := api.NewHandler(churches, funds, txs, reports, closings, store, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		Auth:        auth.NewJWTProvider(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL),
		Logger:      logger.Named("http"),
		Metrics:     metrics,
		CORSOrigins: cfg.CORSOrigins,
	})

	scheduler := api.NewReconcileScheduler(funds, cfg.ReconcileInterval, logger.Named("scheduler"))
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.Bool("general_fund_per_church", cfg.GeneralFundPerChurch))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
