// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSConfig holds configuration for the SQS publisher.
type SQSConfig struct {
	QueueURL string
	Region   string
	// Endpoint is an optional custom endpoint (for ElasticMQ, LocalStack).
	Endpoint string
}

// SQSPublisher publishes notifications to an SQS queue consumed by the
// realtime gateway.
type SQSPublisher struct {
	client   *sqs.Client
	queueURL string
	logger   *slog.Logger
}

func NewSQSPublisher(ctx context.Context, cfg SQSConfig, logger *slog.Logger) (*SQSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		logger.Info("configuring SQS publisher for custom endpoint", "endpoint", cfg.Endpoint)
		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &SQSPublisher{
		client:   sqs.NewFromConfig(awsCfg, clientOpts...),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

func (p *SQSPublisher) Publish(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send notification to %s: %w", n.Topic, err)
	}

	p.logger.Debug("notification published",
		"topic", n.Topic,
		"name", n.Name,
	)
	return nil
}
