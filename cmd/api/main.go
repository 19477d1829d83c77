// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timada/cobase/internal/blob"
	"github.com/timada/cobase/internal/config"
	"github.com/timada/cobase/internal/eventstore"
	"github.com/timada/cobase/internal/logging"
	"github.com/timada/cobase/internal/persistence/postgres"
	httptransport "github.com/timada/cobase/internal/transport/http"
	"github.com/timada/cobase/internal/warehouse"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
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

	store := eventstore.NewPostgresStore(pool, logger)
	registry := warehouse.NewRegistry(pool, logger)

	handler := httptransport.NewRouter(httptransport.Deps{
		Importer:           warehouse.NewImportService(store, blobs, logger),
		Lister:             warehouse.NewQuery(pool, registry, logger),
		Health:             postgres.NewSchemaHealthChecker(pool),
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Version:            Version,
		Commit:             Commit,
		BuildDate:          BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
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
