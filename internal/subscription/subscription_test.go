// SPDX-License-Identifier: Apache-2.0

package subscription

import (
	"context"
	"testing"

	"github.com/timada/cobase/internal/domain"
)

type nopHandler struct{}

func (nopHandler) Name() string          { return "nop" }
func (nopHandler) AggregateType() string { return domain.AggregateWarehouse }

func (nopHandler) Handle(ctx context.Context, ev domain.Event) error { return nil }

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Deps{Handler: nopHandler{}})

	if s.batchSize != 100 {
		t.Fatalf("expected default batch size 100, got %d", s.batchSize)
	}
	if s.logger == nil {
		t.Fatal("expected a default logger")
	}
}

func TestNewKeepsExplicitBatchSize(t *testing.T) {
	s := New(Deps{Handler: nopHandler{}, BatchSize: 25})

	if s.batchSize != 25 {
		t.Fatalf("expected batch size 25, got %d", s.batchSize)
	}
}
