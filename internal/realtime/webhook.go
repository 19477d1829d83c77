// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	webhookRetryAttempts = 3
	webhookRetryBase     = 300 * time.Millisecond
	webhookHeaderSig     = "X-Signature"
)

// WebhookPublisher delivers notifications by POSTing them to a realtime
// gateway endpoint, signing the payload when a secret is configured.
type WebhookPublisher struct {
	url        string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewWebhookPublisher(url, secret string, logger *slog.Logger) *WebhookPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookPublisher{
		url:        strings.TrimSpace(url),
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, n Notification) error {
	if p.url == "" {
		return nil
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	signature := signPayload(p.secret, body)

	var lastErr error
	for attempt := 1; attempt <= webhookRetryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build notification request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(webhookHeaderSig, signature)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = err
			p.logger.Warn("notification delivery failure",
				"topic", n.Topic,
				"attempt", attempt,
				"error", err,
			)
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
				return nil
			}

			lastErr = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
			p.logger.Warn("notification delivery failure",
				"topic", n.Topic,
				"attempt", attempt,
				"response_status", resp.StatusCode,
			)
		}

		if attempt < webhookRetryAttempts {
			wait := webhookRetryBase * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	return fmt.Errorf("notification retries exhausted: %w", lastErr)
}

func signPayload(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
