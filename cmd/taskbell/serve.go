package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/basket/taskbell/internal/bus"
	"github.com/basket/taskbell/internal/channels"
	"github.com/basket/taskbell/internal/config"
	"github.com/basket/taskbell/internal/gateway"
	otelPkg "github.com/basket/taskbell/internal/otel"
	"github.com/basket/taskbell/internal/persistence"
	"github.com/basket/taskbell/internal/reminder"
	"github.com/basket/taskbell/internal/telemetry"
)

func runServeCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: taskbell serve")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	eventBus := bus.New()

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.OTel.Enabled,
		Exporter:    cfg.OTel.Exporter,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: cfg.OTel.ServiceName,
		SampleRate:  cfg.OTel.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	dbPath := filepath.Join(cfg.HomeDir, "taskbell.db")
	store, err := persistence.Open(dbPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated", "db_path", dbPath)

	notifier := channels.NewService(cfg.Channels, logger)

	machine := reminder.NewMachine(reminder.MachineConfig{
		Store:  store,
		Bus:    eventBus,
		Logger: logger,
	})

	scanner := reminder.NewScanner(reminder.ScannerConfig{
		Store:      store,
		Notifier:   notifier,
		Logger:     logger,
		Bus:        eventBus,
		Metrics:    metrics,
		Interval:   cfg.ScanInterval(),
		DigestCron: cfg.Scanner.DigestCron,
	})
	scanner.Start(ctx)
	defer scanner.Stop()
	logger.Info("startup phase", "phase", "scanner_started", "interval", cfg.ScanInterval())

	var auth *gateway.AuthMiddleware
	defaultOwner := "local@taskbell"
	if cfg.Auth.Enabled {
		auth = gateway.NewAuthMiddleware(cfg.Auth)
		if len(cfg.Auth.Keys) > 0 {
			defaultOwner = cfg.Auth.Keys[0].Email
		}
	}

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher start failed; live reload disabled", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				fresh, err := config.Load()
				if err != nil {
					logger.Error("config reload failed; keeping previous config", "error", err)
					continue
				}
				if fresh.Fingerprint() == cfg.Fingerprint() {
					continue
				}
				logger.Warn("config changed on disk; restart to apply",
					"old_fingerprint", cfg.Fingerprint(),
					"new_fingerprint", fresh.Fingerprint())
			}
		}()
	}

	gw := gateway.New(gateway.Config{
		Store:             store,
		Machine:           machine,
		Bus:               eventBus,
		Logger:            logger,
		Metrics:           metrics,
		DefaultOwner:      defaultOwner,
		ConfigFingerprint: cfg.Fingerprint(),
	})
	if err := gw.Serve(ctx, cfg.BindAddr, auth); err != nil {
		logger.Error("gateway terminated", "error", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}
