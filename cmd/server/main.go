// Command medsched-server starts the medication schedule engine HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediapp/medsched/internal/config"
	"github.com/mediapp/medsched/internal/limiter"
	"github.com/mediapp/medsched/internal/migrate"
	"github.com/mediapp/medsched/internal/repository/postgres"
	"github.com/mediapp/medsched/internal/server/httpapi"
	"github.com/mediapp/medsched/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations, and starts the HTTP server.
func main() {
	cfgPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	var (
		cfg *config.Config
		err error
	)
	if *cfgPath != "" {
		cfg, err = config.Load(*cfgPath)
	} else {
		cfg, err = config.LoadDefaultPath()
	}
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer pool.Close()

	// Repositories
	db := &postgres.DB{Pool: pool}
	userRepo := postgres.NewUserRepo(db)
	medRepo := postgres.NewMedicationRepo(db)
	intakeRepo := postgres.NewIntakeRepo(db)

	lim := limiter.NewPG(pool, 15*time.Minute, 5, 15*time.Minute)

	// Services
	authSvc := service.NewAuthService(userRepo, []byte(cfg.JWTKey), cfg.AccessTTL, lim)
	registrySvc := service.NewRegistryService(medRepo, cfg.DefaultRefillThresholdDays)
	stockSvc := service.NewStockService(medRepo)
	ledgerSvc := service.NewLedgerService(medRepo, intakeRepo, stockSvc, cfg.GraceWindow)
	plannerSvc := service.NewPlannerService(medRepo)

	api := httpapi.New(authSvc, registrySvc, ledgerSvc, stockSvc, plannerSvc,
		[]byte(cfg.JWTKey), cfg.PlanHorizon)

	handler := httpapi.Recover(logger)(httpapi.Logging(logger)(api.Routes()))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
