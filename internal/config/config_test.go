// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/cobase")
	t.Setenv("BLOB_BUCKET", "cobase-imports")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Env != "dev" {
		t.Fatalf("expected dev env, got %s", cfg.Env)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.PollInterval != 800*time.Millisecond {
		t.Fatalf("expected default poll interval 800ms, got %s", cfg.PollInterval)
	}
	if cfg.SubscriptionBatchSize != 100 {
		t.Fatalf("expected default batch size 100, got %d", cfg.SubscriptionBatchSize)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("BLOB_BUCKET", "cobase-imports")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing DATABASE_URL to fail")
	}
}

func TestLoadRequiresBlobTarget(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/cobase")
	t.Setenv("BLOB_BUCKET", "")
	t.Setenv("BLOB_LOCAL_DIR", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing blob target to fail")
	}
}

func TestLoadLocalBlobDir(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/cobase")
	t.Setenv("BLOB_LOCAL_DIR", t.TempDir())
	t.Setenv("POLL_INTERVAL", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("expected 2s poll interval, got %s", cfg.PollInterval)
	}
}
