package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/grandcat/zeroconf"

	"sosapp/contact-server/internal/config"
	"sosapp/contact-server/internal/contact"
	"sosapp/contact-server/internal/mqttsub"
	"sosapp/contact-server/internal/store"
)

// App wires together the contact services and manages their lifecycle.
type App struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *store.Store
	subscriber *mqttsub.Subscriber
	scanner    *contact.Scanner
	mdns       *zeroconf.Server
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	if a.cfg.MQTTBroker != "" {
		sub := mqttsub.New(mqttsub.Options{
			Broker:   a.cfg.MQTTBroker,
			ClientID: a.cfg.MQTTClientID,
			Topic:    a.cfg.MQTTTopic,
		}, a.logger)
		sub.SetPublishHandler(a.handleLocationPublish)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		a.subscriber = sub
		defer func() {
			_ = a.subscriber.Stop()
			a.logger.Info("mqtt subscriber stopped")
		}()
	} else {
		a.logger.Warn("mqtt broker not configured, location ingest disabled")
	}

	a.scanner = contact.NewScanner(a.store, contact.Options{
		Warmup:   a.cfg.ScanWarmup,
		Interval: a.cfg.ScanInterval,
		Window:   a.cfg.ScanWindow,
		Logger:   a.logger.With("component", "scanner"),
	})

	scanCtx, stopScan := context.WithCancel(ctx)
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		if err := a.scanner.Run(scanCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("contact scanner stopped", "error", err)
		}
	}()
	defer func() {
		stopScan()
		<-scanDone
	}()

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.cfg.MDNSEnabled {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		a.logger.Info("http server stopped")
		return nil
	case err := <-httpErrCh:
		return err
	}
}
