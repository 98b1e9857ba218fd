package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	httpadapter "devintel/internal/adapters/http"
	pg "devintel/internal/adapters/postgres"
	"devintel/internal/config"
	"devintel/internal/logger"
	"devintel/internal/ports"
	keysvc "devintel/internal/services/keys"
	profsvc "devintel/internal/services/profiles"
	scoreworker "devintel/internal/workers/scorerunner"
)

func main() {
	cfg, err := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel, os.Stdout)
	slog.SetDefault(log)
	if err != nil {
		log.Warn("config", "err", err)
	}
	if cfg.DatabaseURL == "" {
		log.Error("DATABASE_URL is required for Postgres adapters")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		n, err := db.Migrate(ctx)
		if err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
		log.Info("migrations applied", "count", n)
	}

	// Wire repositories to services (ports)
	var _ ports.ProfileRepository = db
	var _ ports.KeyRepository = db
	var _ ports.JobRepository = db

	profiles := profsvc.New(db, log)
	keys := keysvc.New(db, log)
	processor := scoreworker.ScoringProcessor{
		Profiles: db,
		Scorer:   scoreworker.AggregateScorer{Threshold: cfg.ScoreThreshold},
	}

	opts := []httpadapter.Option{httpadapter.WithLogger(log), httpadapter.WithAdminToken(cfg.AdminToken)}
	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN not set, key issuance disabled")
	}
	if !cfg.RequireAPIKey {
		log.Warn("API key check disabled")
		opts = append(opts, httpadapter.WithoutAuth())
	}
	srv := httpadapter.New(profiles, keys, db, processor, opts...)
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	if cfg.ScoreWorkers > 0 {
		scoreworker.Run(ctx, db, processor, cfg.ScoreWorkers, cfg.PollInterval, log)
		log.Info("score workers started", "count", cfg.ScoreWorkers)
	}

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Info("listening", "addr", cfg.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", "err", err)
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}
}
