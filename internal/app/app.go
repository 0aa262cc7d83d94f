// Package app wires configuration, infrastructure, and domain components
// together per runtime mode and runs until its context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/richtunnel/partnerstestapi/internal/auth"
	"github.com/richtunnel/partnerstestapi/internal/capability"
	"github.com/richtunnel/partnerstestapi/internal/config"
	"github.com/richtunnel/partnerstestapi/internal/health"
	"github.com/richtunnel/partnerstestapi/internal/httpserver"
	"github.com/richtunnel/partnerstestapi/internal/idempotency"
	"github.com/richtunnel/partnerstestapi/internal/objectstore"
	"github.com/richtunnel/partnerstestapi/internal/platform"
	"github.com/richtunnel/partnerstestapi/internal/queue"
	"github.com/richtunnel/partnerstestapi/internal/queue/redisqueue"
	"github.com/richtunnel/partnerstestapi/internal/ratelimit"
	"github.com/richtunnel/partnerstestapi/internal/telemetry"
	"github.com/richtunnel/partnerstestapi/pkg/apikey"
	"github.com/richtunnel/partnerstestapi/pkg/demographics"
	"github.com/richtunnel/partnerstestapi/pkg/documents"
	"github.com/richtunnel/partnerstestapi/pkg/webhook"
	"github.com/richtunnel/partnerstestapi/pkg/worker"
)

// Run reads config, connects to infrastructure, and starts the mode
// selected by cfg.Mode: gateway, worker, webhook-worker, or blob-reactor.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting partnerstestapi", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.OTLPEndpoint, "partnerstestapi", "1.0.0")
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(telemetry.All()...)

	switch cfg.Mode {
	case "gateway":
		return runGateway(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	case "webhook-worker":
		return runWebhookWorker(ctx, cfg, logger, db, rdb)
	case "blob-reactor":
		return runBlobReactor(ctx, cfg, logger, db, rdb)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// newObjectStore builds the blob backend. Only a filesystem-backed store is
// wired today; BlobAccountKey is reserved for a future cloud-backed Store
// implementation behind the same interface.
func newObjectStore(cfg *config.Config) (objectstore.Store, error) {
	baseURL := cfg.BlobBaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s/blobs", cfg.ListenAddr())
	}
	return objectstore.NewFilesystemStore(filepath.Join("data", cfg.BlobContainer), baseURL)
}

func newQueue(rdb *redis.Client) *redisqueue.Queue {
	return redisqueue.New(rdb)
}

func runGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	credentials := auth.NewStore(db)
	limiter := ratelimit.New(rdb, logger)
	q := newQueue(rdb)
	cache := idempotency.New(rdb, db, logger)

	store, err := newObjectStore(cfg)
	if err != nil {
		return fmt.Errorf("creating object store: %w", err)
	}
	issuer := capability.New(store, db)

	demoStore := demographics.NewStore(db)
	demoService := demographics.NewService(demoStore, q, logger)
	demoHandler := demographics.NewHandler(demoService, cache, logger)

	docsHandler := documents.NewHandler(issuer, logger)

	apikeyService := apikey.NewService(credentials, cfg.CredentialPrefix, logger)
	apikeyHandler := apikey.NewHandler(apikeyService, logger)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, credentials, limiter)

	healthChecker := health.NewChecker(db, rdb, q)
	healthHandler := health.NewHandler(healthChecker, q, logger)
	srv.Router.Get("/health", healthHandler.HandleHealth)
	srv.V1Router.With(auth.RequireScopes(auth.ScopeDemographicsRead)).Get("/queues", healthHandler.HandleQueues)

	srv.V1Router.Mount("/demographics", demoHandler.Routes())
	srv.V1Router.Mount("/documents", docsHandler.Routes())
	srv.V1Router.Mount("/admin/api-keys", apikeyHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	q := newQueue(rdb)
	demoStore := demographics.NewStore(db)

	pool := worker.NewPool(q, q, demoStore, logger, cfg.WorkerPoolSize)
	docWorker := worker.NewDocumentWorker(q, noopClassifier, logger)
	deadLetter := worker.NewDeadLetterConsumer(q, q, logger)

	errCh := make(chan struct{})
	go func() { pool.Run(ctx); close(errCh) }()
	go docWorker.Run(ctx)
	go deadLetter.Run(ctx)

	logger.Info("worker pool started", "size", cfg.WorkerPoolSize)
	<-ctx.Done()
	<-errCh
	return nil
}

// noopClassifier is the default document classifier: extraction/
// classification logic is deployment-specific and out of scope here, so
// messages simply complete once validated and uploaded.
func noopClassifier(ctx context.Context, tenant, blobPath string) error {
	return nil
}

func runWebhookWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	q := newQueue(rdb)
	client := webhook.NewClient(cfg.WebhookSecret, fmt.Sprintf("%s/%s", cfg.WebhookProduct, cfg.WebhookVersion))
	deliveryLog := webhook.NewDeliveryLog(db, logger)
	deliveryLog.Start(ctx)
	defer deliveryLog.Close()

	resolve := func(tenant string) string {
		return cfg.WebhookURLForTenant(lookupEnv, tenant)
	}

	dispatcher := webhook.NewDispatcher(q, q, client, resolve, deliveryLog, logger)
	logger.Info("webhook dispatcher started")
	dispatcher.Run(ctx)
	return nil
}

func lookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

func runBlobReactor(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	q := newQueue(rdb)
	store, err := newObjectStore(cfg)
	if err != nil {
		return fmt.Errorf("creating object store: %w", err)
	}
	issuer := capability.New(store, db)
	reactor := documents.NewReactor(issuer, q, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/blob-events", reactor.Handler())

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("blob-event reactor listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
