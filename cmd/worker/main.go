// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/timada/cobase/internal/blob"
	"github.com/timada/cobase/internal/config"
	"github.com/timada/cobase/internal/logging"
	"github.com/timada/cobase/internal/persistence/postgres"
	"github.com/timada/cobase/internal/realtime"
	"github.com/timada/cobase/internal/subscription"
	"github.com/timada/cobase/internal/warehouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		log.Fatalf("blob store init failed: %v", err)
	}

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("realtime publisher init failed: %v", err)
	}

	registry := warehouse.NewRegistry(pool, logger)
	projector := warehouse.NewProjector(pool, registry, blobs, publisher, logger)

	sub := subscription.New(subscription.Deps{
		Pool:      pool,
		Logger:    logger,
		Handler:   projector,
		BatchSize: cfg.SubscriptionBatchSize,
	})

	if err := sub.Register(ctx); err != nil {
		log.Fatalf("subscription register failed: %v", err)
	}

	logger.Info("worker started",
		"subscription", projector.Name(),
		"poll_interval", cfg.PollInterval,
	)

	sub.Run(ctx, cfg.PollInterval)

	logger.Info("worker stopped")
}

func newBlobStore(ctx context.Context, cfg config.Config) (blob.Store, error) {
	if cfg.BlobLocalDir != "" {
		return blob.NewLocalStore(cfg.BlobLocalDir)
	}

	return blob.NewS3Store(ctx, cfg.BlobBucket, blob.S3Config{
		Region:       cfg.BlobRegion,
		Endpoint:     cfg.BlobEndpoint,
		UsePathStyle: cfg.BlobPathStyle,
	})
}

func newPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) (realtime.Publisher, error) {
	if cfg.RealtimeQueueURL != "" {
		return realtime.NewSQSPublisher(ctx, realtime.SQSConfig{
			QueueURL: cfg.RealtimeQueueURL,
			Region:   cfg.BlobRegion,
		}, logger)
	}
	if cfg.WebhookURL != "" {
		return realtime.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, logger), nil
	}
	return realtime.NopPublisher{}, nil
}
