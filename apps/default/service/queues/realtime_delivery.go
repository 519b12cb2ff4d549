// Package queues holds the subscribe workers attached to the delivery
// queues.
package queues

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"

	"github.com/quipp/service-whatsapp/apps/default/config"
	"github.com/quipp/service-whatsapp/apps/default/service/fanout"
	"github.com/quipp/service-whatsapp/internal"
	"github.com/quipp/service-whatsapp/internal/telemetry"
)

// realtimeDeliveryQueueHandler drains one delivery shard into the local
// websocket hub. Malformed and repeatedly failing payloads go to the
// dead-letter queue instead of poisoning the shard.
type realtimeDeliveryQueueHandler struct {
	cfg       *config.WhatsAppConfig
	hub       *fanout.Hub
	dlp       *DeadLetterPublisher
	queueName string
}

// NewRealtimeDeliveryQueueHandler creates the subscribe worker for one
// delivery shard.
func NewRealtimeDeliveryQueueHandler(
	cfg *config.WhatsAppConfig,
	hub *fanout.Hub,
	dlp *DeadLetterPublisher,
	shardID int,
) queue.SubscribeWorker {
	return &realtimeDeliveryQueueHandler{
		cfg:       cfg,
		hub:       hub,
		dlp:       dlp,
		queueName: fmt.Sprintf(cfg.QueueEventDeliveryName, shardID),
	}
}

//nolint:nonamedreturns // named return required for deferred tracing
func (rq *realtimeDeliveryQueueHandler) Handle(
	ctx context.Context,
	headers map[string]string,
	payload []byte,
) (err error) {
	ctx, span := telemetry.DeliveryTracer.Start(ctx, "RealtimeDelivery")
	defer func() { telemetry.DeliveryTracer.End(ctx, span, err) }()

	if rq.dlp != nil && rq.dlp.ShouldDeadLetter(retryCount(headers)) {
		return rq.dlp.Publish(ctx, json.RawMessage(payload), rq.queueName, "max retries exceeded", headers)
	}

	env := &fanout.Envelope{}
	err = json.Unmarshal(payload, env)
	if err != nil {
		util.Log(ctx).WithError(err).Error("failed to unmarshal realtime envelope")
		if rq.dlp != nil {
			// A payload that never parses will never parse, no retry.
			return rq.dlp.Publish(ctx, json.RawMessage(payload), rq.queueName, err.Error(), headers)
		}
		return err
	}

	if env.ConnectionID == "" {
		util.Log(ctx).WithField("event_type", env.Type).Warn("dropping envelope without connection id")
		return nil
	}

	rq.hub.Publish(ctx, env)
	return nil
}

func retryCount(headers map[string]string) int {
	count, err := strconv.Atoi(headers[internal.HeaderRetryCount])
	if err != nil {
		return 0
	}
	return count
}
