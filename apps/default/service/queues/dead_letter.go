package queues

import (
	"context"
	"fmt"
	"maps"

	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"

	"github.com/quipp/service-whatsapp/apps/default/config"
	"github.com/quipp/service-whatsapp/internal"
	"github.com/quipp/service-whatsapp/internal/telemetry"
)

// DeadLetterPublisher publishes undeliverable realtime events to the
// dead-letter queue once they exceed the maximum retry count.
type DeadLetterPublisher struct {
	cfg  *config.WhatsAppConfig
	qMan queue.Manager
}

// NewDeadLetterPublisher creates a new dead-letter queue publisher.
func NewDeadLetterPublisher(cfg *config.WhatsAppConfig, qMan queue.Manager) *DeadLetterPublisher {
	return &DeadLetterPublisher{
		cfg:  cfg,
		qMan: qMan,
	}
}

// ShouldDeadLetter returns true if the delivery has exceeded the max retry count.
func (dlp *DeadLetterPublisher) ShouldDeadLetter(retryCount int) bool {
	return retryCount >= dlp.cfg.MaxDeliveryRetries
}

// Publish sends a failed delivery to the dead-letter queue with error
// context headers for diagnostics.
func (dlp *DeadLetterPublisher) Publish(
	ctx context.Context,
	msg any,
	originalQueue string,
	errMsg string,
	headers map[string]string,
) error {
	topic, err := dlp.qMan.GetPublisher(dlp.cfg.QueueDeadLetterName)
	if err != nil {
		return fmt.Errorf("failed to get dead-letter publisher: %w", err)
	}

	dlqHeaders := make(map[string]string, len(headers)+2)
	maps.Copy(dlqHeaders, headers)
	dlqHeaders[internal.HeaderDLQOriginalQueue] = originalQueue
	dlqHeaders[internal.HeaderDLQErrorMessage] = errMsg

	if pubErr := topic.Publish(ctx, msg, dlqHeaders); pubErr != nil {
		util.Log(ctx).WithError(pubErr).
			WithField("original_queue", originalQueue).
			Error("failed to publish to dead-letter queue")
		return pubErr
	}

	telemetry.EventsDeadLetteredCounter.Add(ctx, 1)
	util.Log(ctx).
		WithField("original_queue", originalQueue).
		WithField("error", errMsg).
		Warn("delivery moved to dead-letter queue")

	return nil
}
