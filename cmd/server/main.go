package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatcher"
	"github.com/example/ride-dispatch/internal/history"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/ratings"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/ride"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	var db *sql.DB
	if cfg.PGDSN != "" {
		db, err = sql.Open("postgres", cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := migrate(db); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
	}

	var archive history.Archive
	var ratingStore ratings.Store
	if db != nil {
		archive = history.NewPostgresArchiveFromDB(db)
		ratingStore = ratings.NewPostgresStore(db)
	} else {
		archive = history.NewMemoryArchive(cfg.HistoryMaxRecords)
		ratingStore = ratings.NewMemoryStore()
	}

	var producer *location.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = location.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	var mirror *location.GeoMirror
	if cfg.RedisAddr != "" {
		mirror = location.NewGeoMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	}
	var locations dispatcher.LocationSink
	if producer != nil || mirror != nil {
		pipeline := location.NewPipeline(producer, mirror, logger)
		defer pipeline.Close()
		locations = pipeline
	}

	reg := registry.New(logger)
	disp := dispatcher.New(dispatcher.Options{
		Rides:         ride.NewStore(),
		Notifier:      reg,
		Archive:       archive,
		Ratings:       ratingStore,
		Locations:     locations,
		SearchTimeout: cfg.SearchTimeout,
		Logger:        logger,
	})
	defer disp.Close()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(logger, reg, disp, archive),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr, "search_timeout", cfg.SearchTimeout)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func migrate(db *sql.DB) error {
	b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
