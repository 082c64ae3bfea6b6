// Package main is the entry point for the docchat server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/howard-nolan/docchat/internal/chat"
	"github.com/howard-nolan/docchat/internal/config"
	"github.com/howard-nolan/docchat/internal/document"
	"github.com/howard-nolan/docchat/internal/metrics"
	"github.com/howard-nolan/docchat/internal/provider"
	"github.com/howard-nolan/docchat/internal/server"
)

// shutdownTimeout bounds how long in-flight requests get to finish after a
// termination signal.
const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("docchat exited", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	m := metrics.New()

	registry, err := provider.NewRegistry(cfg.Providers, cfg.Upstream.Timeout)
	if err != nil {
		return fmt.Errorf("building providers: %w", err)
	}
	for _, id := range registry.IDs() {
		p, _ := registry.Resolve(string(id))
		logger.Info("registered provider", "id", id, "endpoint", p.Endpoint, "model", p.DefaultModel(), "proxied", p.Proxy != nil)
	}

	store, err := document.NewStore(cfg.Uploads.Dir,
		document.WithMaxBytes(cfg.Uploads.MaxBytes),
		document.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	texts := document.NewTextCache(document.PDFExtractor{}, cfg.Cache.MaxEntries, m)
	watcher, err := document.NewWatcher(texts, store.Dir(), logger)
	if err != nil {
		return err
	}
	janitor := &document.Janitor{
		Dir:      store.Dir(),
		MaxAge:   cfg.Uploads.Retention,
		Interval: cfg.Uploads.SweepInterval,
		Logger:   logger,
	}

	srv := server.New(cfg, server.Deps{
		Chat:    chat.NewDispatcher(registry, m, logger),
		Store:   store,
		Texts:   texts,
		Metrics: m,
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("docchat listening", "addr", httpServer.Addr, "uploads", store.Dir())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	g.Go(func() error {
		return janitor.Run(ctx)
	})

	return g.Wait()
}
