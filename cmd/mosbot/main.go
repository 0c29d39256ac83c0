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

	"github.com/moslab/mosbot/internal/agentgw"
	"github.com/moslab/mosbot/internal/audit"
	"github.com/moslab/mosbot/internal/config"
	"github.com/moslab/mosbot/internal/cron"
	"github.com/moslab/mosbot/internal/gateway"
	otelPkg "github.com/moslab/mosbot/internal/otel"
	"github.com/moslab/mosbot/internal/persistence"
	"github.com/moslab/mosbot/internal/subagents"
	"github.com/moslab/mosbot/internal/telemetry"
	"github.com/moslab/mosbot/internal/workspace"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	quiet := flag.Bool("quiet", false, "suppress stdout logging")
	flag.Parse()

	if *showVersion {
		fmt.Println("mosbot", Version)
		return
	}

	if err := run(*quiet); err != nil {
		fmt.Fprintln(os.Stderr, "mosbot:", err)
		os.Exit(1)
	}
}

func run(quiet bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := audit.Init(cfg.HomeDir); err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	defer audit.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Otel.Enabled,
		Exporter:    cfg.Otel.Exporter,
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: cfg.Otel.ServiceName,
		SampleRate:  cfg.Otel.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	reader := workspace.NewClient(cfg.Workspace.BaseURL, cfg.WorkspaceTimeout(), logger)
	sessions := agentgw.NewClient(cfg.Gateway.URL, cfg.Gateway.Token, cfg.GatewayTimeout(), logger)

	svc, err := subagents.NewService(reader, store, sessions, subagents.Options{
		GatewayLookback:          cfg.GatewayLookback(),
		CompletedRetentionDays:   cfg.Retention.CompletedDays,
		ActivityLogRetentionDays: cfg.Retention.ActivityLogDays,
		Metrics:                  metrics,
	}, logger)
	if err != nil {
		return fmt.Errorf("init subagents service: %w", err)
	}

	srv := gateway.New(gateway.Config{
		Store:               store,
		Subagents:           svc,
		AuthToken:           cfg.AuthToken,
		Logger:              logger,
		Metrics:             metrics,
		ConfigFingerprint:   cfg.Fingerprint(),
		WorkspaceConfigured: reader.Configured(),
		GatewayConfigured:   sessions.Configured(),
	})

	purger, err := cron.NewScheduler(cron.Config{
		Store:                    store,
		Logger:                   logger,
		Schedule:                 cfg.Retention.PurgeSchedule,
		Location:                 subagents.PurgeLocation(),
		CompletedRetentionDays:   cfg.Retention.CompletedDays,
		ActivityLogRetentionDays: cfg.Retention.ActivityLogDays,
		Metrics:                  metrics,
	})
	if err != nil {
		return fmt.Errorf("init retention scheduler: %w", err)
	}
	purger.Start(ctx)
	defer purger.Stop()

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				// A restart applies the new file; until then log the drift
				// so operators notice the running config is stale.
				fresh, err := config.Load()
				if err != nil {
					logger.Warn("config.yaml changed but does not parse", "error", err)
					continue
				}
				logger.Info("config.yaml changed, restart to apply",
					"active_fingerprint", cfg.Fingerprint(),
					"new_fingerprint", fresh.Fingerprint(),
				)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mosbot listening", "addr", cfg.BindAddr, "version", Version,
			"workspace_configured", reader.Configured(),
			"gateway_configured", sessions.Configured(),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
