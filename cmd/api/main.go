package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/api"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/attendance"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/auth"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/bridge"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/config"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/fanout"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/history"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/httpmiddleware"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/identity"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/logging"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/metrics"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/queue"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/scan"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/station"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checks := map[string]api.Check{}

	docs, closeStore, err := openStore(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *store.Redis
	if cfg.QueueBackend != "memory" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		checks["redis"] = redisClient.Healthy
	}
	q := newQueue(cfg, redisClient)

	late, err := attendance.ParseLatePolicy(cfg.LateCheckoutPolicy)
	if err != nil {
		return err
	}
	source, err := scan.ParseSource(cfg.BridgeSource)
	if err != nil {
		return err
	}

	hub := fanout.NewHub(logger, m)
	svc := attendance.NewService(
		attendance.NewDocumentRepository(docs),
		attendance.WithLatePolicy(late),
		attendance.WithLogger(logger),
		attendance.WithMetrics(m),
	)
	resolver := identity.NewResolver(identity.NewStoreDirectory(docs), logger)
	signer := auth.NewSigner(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	ctrl := bridge.NewController(bridge.Config{Port: cfg.BridgePort, Baud: cfg.BridgeBaud, Source: source}, nil, q, logger, m)
	defer ctrl.Stop()

	msgs, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume scans: %w", err)
	}
	go fanout.Relay(ctx, msgs, hub)

	router := api.NewRouter(api.Deps{
		Hub:      hub,
		Station:  station.New(hub, resolver, svc, cfg.ScanTimeout, logger, m),
		History:  history.NewAggregator(docs, nil, logger, m),
		Bridge:   ctrl,
		Devices:  auth.NewRegistry(docs, signer),
		Signer:   signer,
		Scans:    q,
		Gatherer: reg,
		Checks:   checks,
		Limiter:  httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Origins:  cfg.CORSOrigins,
		Logger:   logger,

		BootstrapKey: cfg.OperatorBootstrapKey,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 6 * time.Minute, // listen requests hold the connection for the scan window
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.HTTPPort, "store", cfg.StoreBackend, "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}

func openStore(ctx context.Context, cfg config.App, checks map[string]api.Check) (store.Documents, func(), error) {
	var (
		db  *store.DB
		err error
	)
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "sqlite":
		db, err = store.NewSQLite(ctx, cfg.SQLitePath)
	case "postgres", "":
		db, err = store.NewDB(ctx, cfg.DatabaseURL)
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	checks["db"] = db.Healthy
	return db.Documents(), func() { _ = db.Close() }, nil
}

func newQueue(cfg config.App, r *store.Redis) queue.Queue {
	if r == nil {
		return queue.NewInMemory(64)
	}
	return queue.NewRedisQueue(r.Client, cfg.QueueKey)
}
