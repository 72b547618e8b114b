package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/movie_request_server/internal/cleanup"
	"github.com/italolelis/movie_request_server/internal/config"
	"github.com/italolelis/movie_request_server/internal/dc"
	"github.com/italolelis/movie_request_server/internal/dc/deluge"
	"github.com/italolelis/movie_request_server/internal/dc/qbittorrent"
	"github.com/italolelis/movie_request_server/internal/http/rest"
	"github.com/italolelis/movie_request_server/internal/inflight"
	"github.com/italolelis/movie_request_server/internal/ledger"
	"github.com/italolelis/movie_request_server/internal/logctx"
	"github.com/italolelis/movie_request_server/internal/metainfo"
	"github.com/italolelis/movie_request_server/internal/notifier"
	"github.com/italolelis/movie_request_server/internal/requests"
	"github.com/italolelis/movie_request_server/internal/storage"
	"github.com/italolelis/movie_request_server/internal/storage/bolt"
	"github.com/italolelis/movie_request_server/internal/storage/jsonfile"
	"github.com/italolelis/movie_request_server/internal/storage/sqlite"
	"github.com/italolelis/movie_request_server/internal/telemetry"
	"github.com/italolelis/movie_request_server/internal/volume"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("movie request server starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
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
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Ledger Storage
	backend, closeBackend, err := buildBackend(cfg)
	if err != nil {
		return fmt.Errorf("failed to open ledger storage: %w", err)
	}
	defer closeBackend()

	backend = storage.NewInstrumentedBackend(backend, cfg.LedgerBackend, tel)

	// =========================================================================
	// Start Download Client
	client, err := buildDownloadClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build download client: %w", err)
	}

	client = dc.NewInstrumentedClient(client, cfg.DownloadClient, tel)

	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("authentication error: %w", err)
	}

	// =========================================================================
	// Start Ledger
	led, err := ledger.Open(ctx, backend, buildRemover(client, tel, cfg), ledger.WithRemoveTimeout(cfg.RemoveTimeout))
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	if cfg.ClearDBOnStartup {
		if err := led.Drop(ctx); err != nil {
			return err
		}
	}

	if err := led.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect ledger: %w", err)
	}

	defer func() {
		if err := led.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to close ledger", "err", err)
		}
	}()

	// =========================================================================
	// Start Request Service
	mounts := volume.Resolve(ctx, cfg.MountPoints)
	if len(mounts) == 0 {
		logger.Warn("no usable mount points configured, every request will be rejected for lack of space")
	}

	selector := volume.NewSelector(mounts)
	tracker := inflight.NewRegistry()
	resolver := metainfo.NewResolver(
		metainfo.WithMaxSize(cfg.MaxTorrentSize),
		metainfo.WithTimeout(cfg.ResolveTimeout),
	)

	service := requests.NewService(led, tracker, resolver, selector, client, requests.WithTelemetry(tel))

	if err := tel.RegisterSources(telemetry.Sources{
		LedgerStats:    led.Stats,
		InflightScopes: tracker.Len,
		MountFree:      mountFree(selector),
	}); err != nil {
		return fmt.Errorf("failed to register metric sources: %w", err)
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, service, selector, led, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// =========================================================================
	// Start Orphan Sweep
	if cfg.OrphanSweepInterval > 0 {
		sweeper, err := cleanup.NewSweeper(led, tracker, client, cfg.ClientCategory(), cfg.OrphanGracePeriod, cleanup.WithTelemetry(tel))
		if err != nil {
			return fmt.Errorf("failed to start orphan sweep: %w", err)
		}

		go sweeper.Run(ctx, cfg.OrphanSweepInterval)
	}

	logger.Info("accepting requests",
		"download_client", cfg.DownloadClient,
		"ledger_backend", cfg.LedgerBackend,
		"mount_points", len(mounts),
		"orphan_sweep_interval", cfg.OrphanSweepInterval.String(),
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// This is an abstract factory for the download client.
func buildDownloadClient(cfg *config.Config) (dc.Client, error) {
	switch cfg.DownloadClient {
	case "qbittorrent":
		return qbittorrent.NewClient(cfg.QBittorrentBaseURL, cfg.QBittorrentUsername, cfg.QBittorrentPassword, cfg.QBittorrentCategory, cfg.InsecureSkipVerify), nil
	case "deluge":
		return deluge.NewClient(cfg.DelugeBaseURL, cfg.DelugeAPIURLPath, cfg.DelugePassword, cfg.DelugeLabel, cfg.InsecureSkipVerify), nil
	}

	return nil, fmt.Errorf("invalid download client: %s", cfg.DownloadClient)
}

// buildBackend opens the ledger storage and returns a function releasing it.
func buildBackend(cfg *config.Config) (storage.Backend, func(), error) {
	switch cfg.LedgerBackend {
	case "json":
		return jsonfile.New(cfg.DBPath), func() {}, nil
	case "sqlite":
		db, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}

		return sqlite.NewLedgerRepository(db), func() { db.Close() }, nil
	case "bolt":
		store, err := bolt.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}

		return store, func() { store.Close() }, nil
	}

	return nil, nil, fmt.Errorf("invalid ledger backend: %s", cfg.LedgerBackend)
}

// buildRemover deletes a torrent with its data, recording the outcome and alerting operators
// on failure when a webhook is configured.
func buildRemover(client dc.Client, tel *telemetry.Telemetry, cfg *config.Config) ledger.ContentRemover {
	base := dc.DataRemover{Client: client}

	instrumented := ledger.RemoverFunc(func(ctx context.Context, infoHash string) error {
		return tel.InstrumentRemoval(ctx, func(ctx context.Context) error {
			return base.RemoveContent(ctx, infoHash)
		})
	})

	if cfg.DiscordWebhookURL == "" {
		return instrumented
	}

	return notifier.AlertingRemover{
		Next:     instrumented,
		Notifier: notifier.NewDiscordNotifier(cfg.DiscordWebhookURL),
	}
}

func mountFree(selector *volume.Selector) func(ctx context.Context) map[string]uint64 {
	return func(ctx context.Context) map[string]uint64 {
		free := make(map[string]uint64)

		for _, u := range selector.Usage(ctx) {
			if u.Err == nil {
				free[u.ExternalID] = u.Free
			}
		}

		return free
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	service *requests.Service,
	selector *volume.Selector,
	led *ledger.Ledger,
	tel *telemetry.Telemetry,
) *http.Server {
	handler := rest.NewRequestsHandler(service, selector, rest.IdentityHeaders{
		UserID:   cfg.Auth.UserIDHeader,
		Username: cfg.Auth.UsernameHeader,
	})

	r := chi.NewRouter()
	r.Use(telemetry.RequestID, telemetry.HTTPLogging, telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/api", handler.Routes())
	r.Get("/healthz", rest.HealthHandler(led))
	r.Handle("/metrics", tel.Handler())

	return &http.Server{
		Addr:              cfg.Web.BindAddress,
		ReadTimeout:       cfg.Web.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Web.WriteTimeout,
		IdleTimeout:       cfg.Web.IdleTimeout,
		Handler:           otelhttp.NewHandler(r, "http.server"),
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}
}
