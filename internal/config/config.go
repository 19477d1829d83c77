// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, loaded from the environment.
type Config struct {
	Env      string `env:"ENV" envDefault:"dev"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	DatabaseURL string `env:"DATABASE_URL,notEmpty"`

	// Blob storage. When BlobLocalDir is set the local filesystem store is
	// used instead of S3; handy for development.
	BlobBucket    string `env:"BLOB_BUCKET"`
	BlobRegion    string `env:"BLOB_REGION" envDefault:"us-east-1"`
	BlobEndpoint  string `env:"BLOB_ENDPOINT"`
	BlobPathStyle bool   `env:"BLOB_PATH_STYLE"`
	BlobLocalDir  string `env:"BLOB_LOCAL_DIR"`

	// Realtime notifications. The SQS queue takes precedence; with neither
	// configured, notifications are dropped.
	RealtimeQueueURL string `env:"REALTIME_QUEUE_URL"`
	WebhookURL       string `env:"WEBHOOK_URL"`
	WebhookSecret    string `env:"WEBHOOK_SECRET"`

	PollInterval          time.Duration `env:"POLL_INTERVAL" envDefault:"800ms"`
	SubscriptionBatchSize int           `env:"SUBSCRIPTION_BATCH_SIZE" envDefault:"100"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
}

// Load parses the configuration from environment variables.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.BlobLocalDir == "" && cfg.BlobBucket == "" {
		return Config{}, fmt.Errorf("either BLOB_BUCKET or BLOB_LOCAL_DIR must be set")
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("POLL_INTERVAL must be positive")
	}

	return cfg, nil
}
