package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/italolelis/mirrord/internal/cleanup"
	"github.com/italolelis/mirrord/internal/config"
	"github.com/italolelis/mirrord/internal/engine"
	"github.com/italolelis/mirrord/internal/http/rest"
	"github.com/italolelis/mirrord/internal/http/ws"
	"github.com/italolelis/mirrord/internal/logctx"
	"github.com/italolelis/mirrord/internal/notifier"
	"github.com/italolelis/mirrord/internal/publish"
	"github.com/italolelis/mirrord/internal/publish/local"
	"github.com/italolelis/mirrord/internal/publish/putio"
	"github.com/italolelis/mirrord/internal/telemetry"
	"github.com/italolelis/mirrord/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("mirrord starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Publish Backends
	registry := transfer.NewRegistry()
	localBackend := local.NewBackend(cfg.BaseURL())
	remote := buildRemoteBackend(ctx, cfg, tel)

	// =========================================================================
	// Start Mirror Engine
	eng, err := engine.New(engine.Config{
		DownloadDir:    cfg.DownloadsDir,
		MaxParallel:    cfg.MaxParallel,
		ProbeTimeout:   cfg.ProbeTimeout,
		MaxRedirects:   cfg.MaxRedirects,
		CopyBufferSize: cfg.CopyBufferMB << 20,
	}, registry, localBackend, remote, tel)
	if err != nil {
		return fmt.Errorf("failed to setup mirror engine: %w", err)
	}

	// =========================================================================
	// Start Notification
	setupNotification(ctx, eng, cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, eng, registry, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for mirror requests...",
		"downloads_dir", cfg.DownloadsDir,
		"base_url", cfg.BaseURL(),
		"max_parallel", cfg.MaxParallel,
		"retention", cfg.KeepDownloadedFor.String(),
	)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, registry, cfg)

	// =========================================================================
	// Start Main Loop
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion. The signal
		// context is already cancelled, so the deadline starts fresh.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// buildRemoteBackend wires the optional put.io publisher. A missing or bad
// token is not fatal: mirrors are then served from local storage only.
func buildRemoteBackend(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) publish.Backend {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.PutioToken == "" {
		return nil
	}

	backend := putio.NewBackend(cfg.PutioToken, cfg.PutioFolder)
	if err := backend.Verify(ctx); err != nil {
		logger.Warn("putio account check failed, serving from local storage only", "err", err)

		return nil
	}

	logger.Info("publishing mirrors to put.io", "folder", cfg.PutioFolder)

	return publish.NewInstrumentedBackend(backend, tel)
}

func setupNotification(ctx context.Context, eng *engine.Engine, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	notify := func(content string) {
		if notif == nil {
			return
		}

		if err := notif.Notify(content); err != nil {
			logger.Error("failed to send notification", "err", err)
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eng.OnTransferCompleted:
				logger.Info("mirror finished", "download_id", event.ID, "file", event.Filename, "source", event.Source)
				notify(notifier.CompletedContent(event))
			case event := <-eng.OnTransferFailed:
				logger.Error("mirror failed", "download_id", event.ID, "url", event.SourceURL, "err", event.Error)
				notify(notifier.FailedContent(event))
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, eng *engine.Engine, registry *transfer.Registry, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/ws", ws.NewHandler(eng, tel).Routes())
	r.Mount("/", rest.NewDownloadsHandler(cfg.DownloadsDir, registry, cfg.CopyBufferMB<<20).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "mirrord"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, registry *transfer.Registry, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-ticker.C:
				if err := cleanup.Sweep(ctx, registry, cfg.DownloadsDir, cfg.KeepDownloadedFor); err != nil {
					logger.Error("failed to sweep expired mirrors", "err", err)
				}
			}
		}
	}()
}
