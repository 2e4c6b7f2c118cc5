package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"sosapp/contact-server/internal/app"
	"sosapp/contact-server/internal/config"
)

func main() {
	var envFiles stringList
	flag.Var(&envFiles, "env-file", "dotenv file to load before reading CONTACTS_* variables (repeatable)")
	flag.Parse()

	cfg, err := config.Load(envFiles...)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	logger.Info("starting contact server",
		"http_port", cfg.HTTPPort,
		"database", cfg.DatabasePath,
		"scan_interval", cfg.ScanInterval,
		"scan_window", cfg.ScanWindow,
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("contact server terminated", "error", err)
		os.Exit(1)
	}

	logger.Info("contact server stopped cleanly")
}

func logLevel(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}
