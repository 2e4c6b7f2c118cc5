package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sosapp/contact-server/internal/config"
	"sosapp/contact-server/internal/store"
)

var (
	dbPath  string
	verbose bool

	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:          "contactctl",
		Short:        "Inspect and drive the contact server database",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", cfg.DatabasePath, "database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log scanner activity to stderr")

	rootCmd.AddCommand(distanceCmd())
	rootCmd.AddCommand(scanCmd(cfg.ScanWindow))
	rootCmd.AddCommand(contactsCmd())
	rootCmd.AddCommand(importCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (*store.Store, error) {
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.InitSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func cliLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
