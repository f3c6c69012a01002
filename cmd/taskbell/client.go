package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/basket/taskbell/internal/client"
	"github.com/basket/taskbell/internal/config"
	"github.com/basket/taskbell/internal/persistence"
	"github.com/basket/taskbell/internal/ringtone"
	"github.com/basket/taskbell/internal/telemetry"
	"github.com/basket/taskbell/internal/tui"
)

func runClientCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: taskbell client")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Quiet logs (file-only) when attached to a terminal so the TUI stays clean.
	quietLogs := isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	api := client.NewAPI(cfg.Client)
	if _, err := api.Healthz(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "daemon unreachable at %s: %v\nstart it with: taskbell serve\n",
			cfg.Client.ServerURL, err)
		return 1
	}

	player, err := ringtone.NewPlayer(ringtone.Config{
		Ringtones: cfg.Ringtones,
		Logger:    logger,
		OnRingFailure: func(priority persistence.Priority) {
			logger.Warn("no playable ringtone source", "priority", priority)
		},
	})
	if err != nil {
		fatalStartup(logger, "E_RINGTONE_INIT", err)
	}

	queue := client.NewQueue()
	poller := client.NewPoller(client.PollerConfig{
		Source:   api,
		Queue:    queue,
		Logger:   logger,
		Interval: cfg.PollInterval(),
	})
	poller.Start(ctx)
	defer poller.Stop()

	err = tui.Run(ctx, tui.Config{
		Queue:  queue,
		Ring:   player,
		API:    api,
		Logger: logger,
	})
	player.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("client terminated", "error", err)
		return 1
	}
	return 0
}
