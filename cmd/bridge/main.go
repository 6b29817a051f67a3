package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/bridge"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/config"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/logging"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/queue"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/scan"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/store"
)

// The bridge reads the scanner stream on the machine the hardware is
// plugged into and publishes tokens to the shared Redis queue. It exits
// when the stream ends so the supervisor can restart it.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bridge failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App, logger *slog.Logger) error {
	if cfg.BridgePort == "" {
		return errors.New("BRIDGE_PORT is required")
	}
	source, err := scan.ParseSource(cfg.BridgeSource)
	if err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, publishing will retry per scan", "addr", cfg.RedisAddr)
	}
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)

	ctrl := bridge.NewController(bridge.Config{Port: cfg.BridgePort, Baud: cfg.BridgeBaud, Source: source}, nil, q, logger, nil)
	res := ctrl.Start(ctx)
	if !res.Success {
		return errors.New(res.Message)
	}
	logger.Info(res.Message, "queue", cfg.QueueKey)

	select {
	case <-ctx.Done():
		logger.Info("shutting down bridge", "result", ctrl.Stop().Message)
		return nil
	case <-ctrl.Done():
		return errors.New(ctrl.Status().Message)
	}
}
