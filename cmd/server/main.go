package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/upwatch/upwatch/internal/api"
	"github.com/upwatch/upwatch/internal/auth"
	"github.com/upwatch/upwatch/internal/bindata"
	"github.com/upwatch/upwatch/internal/config"
	"github.com/upwatch/upwatch/internal/contact"
	"github.com/upwatch/upwatch/internal/database"
	"github.com/upwatch/upwatch/internal/eventbus"
	"github.com/upwatch/upwatch/internal/metadata"
	"github.com/upwatch/upwatch/internal/monitor"
	"github.com/upwatch/upwatch/internal/monitorgroup"
	"github.com/upwatch/upwatch/internal/notify"
	"github.com/upwatch/upwatch/internal/stats"
)

const version = "1.0.0"

func main() {
	var configPath string
	var debug bool

	rootCmd := &cobra.Command{
		Use:     "upwatch",
		Short:   "API-driven service availability monitor",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, debug)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "debug mode, schedule all monitors immediately")

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
}

func run(configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Monitor.Debug = true
	}

	logger, logFile, err := initLogger(cfg.Logging)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.Info("Starting upwatch server",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
	)

	st := stats.NewRegistry()

	db, err := database.Open(&cfg.Database, logger, st)
	if err != nil {
		logger.Error("DB init failed", "error", err)
		return err
	}
	defer db.Close()

	// Migrations are embedded and run on every startup.
	if err := db.Migrate(); err != nil {
		logger.Error("Migrations failed", "error", err)
		return err
	}

	tracer := eventbus.NewTracer(logger, st)
	notifier := notify.NewManager(&cfg.Notifications, logger, st)

	contacts := contact.NewStore(db)
	meta := metadata.NewStore(db)
	bin := bindata.NewStore(db)
	groups := monitorgroup.NewStore(db, meta)

	mgr := monitor.NewManager(db, notifier, contacts, meta, tracer, st, logger,
		cfg.Monitor.MaxConcurrentJobs, cfg.Monitor.Debug)

	initCtx, initCancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = mgr.Initialize(initCtx)
	initCancel()
	if err != nil {
		logger.Error("Monitor engine init failed", "error", err)
		return err
	}
	mgr.StartAll()

	authService, err := auth.NewService(&cfg.Auth)
	if err != nil {
		logger.Error("Failed to initialize auth service", "error", err)
		return err
	}

	srv := api.NewServer(cfg, logger, authService, mgr, contacts, groups, meta, bin, st, tracer)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(&cfg.Server)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", "error", err)
			return err
		}
	case sig := <-quit:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Stop timers and wait for in-flight check pipelines to finish so
	// alert rows are not left half-written.
	mgr.Stop()

	logger.Info("Server stopped gracefully")
	return nil
}

func initLogger(cfg config.LoggingConfig) (*slog.Logger, *os.File, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := os.Stdout
	var logFile *os.File
	if cfg.Output == "file" && cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out = f
		logFile = f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), logFile, nil
}
