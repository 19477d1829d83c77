// SPDX-License-Identifier: Apache-2.0

// Package realtime delivers projection change notifications to connected
// clients through an external transport.
package realtime

import "context"

// Notification is one realtime message addressed to a tenant's topic.
type Notification struct {
	UserID string `json:"user_id"`
	Topic  string `json:"topic"`
	Name   string `json:"name"`
	Data   any    `json:"data"`
}

// Publisher sends notifications to the realtime transport.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// NopPublisher discards notifications. Used in development and tests.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, n Notification) error {
	return nil
}
