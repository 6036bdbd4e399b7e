package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stratos.app/sendguard/common/logger"
	"stratos.app/sendguard/internal/queue"
)

type NotifierConfig struct {
	MaxAttempts int
}

// Notifier consumes operator alerts from the alert stream and delivers them.
// Delivery is a structured log at error level; the operator's log pipeline
// turns those into pages. A failed delivery is requeued until MaxAttempts,
// then parked on the DLQ.
type Notifier struct {
	consumer *queue.RedisConsumer
	cfg      NotifierConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewNotifier(consumer *queue.RedisConsumer, cfg NotifierConfig) *Notifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Notifier{
		consumer:  consumer,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (n *Notifier) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "sendguard.worker.notifier",
	})

	defer close(n.stoppedCh)

	slog.InfoContext(ctx, "notifier started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.stopCh:
			slog.InfoContext(ctx, "notifier stopping")
			return nil
		default:
			if err := n.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (n *Notifier) Stop() {
	close(n.stopCh)
	<-n.stoppedCh
}

func (n *Notifier) processOneBatch(ctx context.Context) error {
	messages, err := n.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := n.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "alert delivery failed",
				"error", err,
				"message_id", msg.ID,
				"kind", msg.Alert.Kind)
			n.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (n *Notifier) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in alert delivery",
				"panic", r,
				"message_id", msg.ID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return n.ProcessMessage(ctx, msg)
}

// ProcessMessage delivers one alert. Exported so it can be reused by the
// reclaimer.
func (n *Notifier) ProcessMessage(ctx context.Context, msg queue.Message) error {
	alert := msg.Alert

	switch alert.Kind {
	case queue.AlertProviderDown:
		slog.ErrorContext(ctx, "ALERT: email provider down",
			"provider", alert.Provider,
			"failure_rate", derefFloat(alert.FailureRate),
			"reason", alert.Reason)
	case queue.AlertDomainSuspended:
		slog.ErrorContext(ctx, "ALERT: sending domain suspended",
			"tenant_id", alert.TenantID,
			"domain", alert.Domain,
			"bounce_rate", derefFloat(alert.BounceRate),
			"complaint_rate", derefFloat(alert.ComplaintRate),
			"reason", alert.Reason)
	default:
		// Parsed upstream, so this should be unreachable; ack rather than
		// loop forever on an unknown kind.
		slog.WarnContext(ctx, "unknown alert kind, dropping", "kind", alert.Kind)
	}

	if err := n.consumer.Ack(ctx, msg); err != nil {
		slog.WarnContext(ctx, "failed to ACK alert",
			"error", err,
			"message_id", msg.ID)
	}

	return nil
}

func (n *Notifier) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Alert.Attempt >= n.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending alert to DLQ",
			"message_id", msg.ID,
			"attempts", msg.Alert.Attempt)
		if dlqErr := n.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send alert to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed alert",
		"message_id", msg.ID,
		"attempt", msg.Alert.Attempt)
	if requeueErr := n.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue alert", "error", requeueErr)
	}
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
