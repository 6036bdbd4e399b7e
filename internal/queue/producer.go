package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Publish(ctx context.Context, alert Alert) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Publish(ctx context.Context, alert Alert) error {
	attempt := alert.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: alertValues(alert, attempt),
	}).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}

	p.logger.InfoContext(ctx, "published alert", "kind", alert.Kind, "provider", alert.Provider, "tenant_id", alert.TenantID, "domain", alert.Domain)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

func alertValues(alert Alert, attempt int) map[string]any {
	values := map[string]any{
		"kind":    string(alert.Kind),
		"attempt": attempt,
	}

	if alert.Provider != "" {
		values["provider"] = alert.Provider
	}
	if alert.FailureRate != nil {
		values["failure_rate"] = *alert.FailureRate
	}
	if alert.TenantID != "" {
		values["tenant_id"] = alert.TenantID
	}
	if alert.Domain != "" {
		values["domain"] = alert.Domain
	}
	if alert.BounceRate != nil {
		values["bounce_rate"] = *alert.BounceRate
	}
	if alert.ComplaintRate != nil {
		values["complaint_rate"] = *alert.ComplaintRate
	}
	if alert.Reason != "" {
		values["reason"] = alert.Reason
	}

	return values
}
