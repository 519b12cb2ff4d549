// Package events holds the in-process event handlers that bridge business
// operations onto the delivery queues.
package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"

	"github.com/quipp/service-whatsapp/apps/default/config"
	"github.com/quipp/service-whatsapp/apps/default/service/fanout"
	"github.com/quipp/service-whatsapp/internal"
	"github.com/quipp/service-whatsapp/internal/telemetry"
)

const BroadcastEventName = "whatsapp.event.broadcast"

// BroadcastEventHandler routes realtime envelopes onto the sharded delivery
// queues. Envelopes for the same connection always land on the same shard,
// so subscribers of one connection see events in publish order.
type BroadcastEventHandler struct {
	cfg      *config.WhatsAppConfig
	queueMan queue.Manager

	mu     sync.Mutex
	topics map[int]queue.Publisher
}

func NewBroadcastEventHandler(cfg *config.WhatsAppConfig, queueMan queue.Manager) *BroadcastEventHandler {
	return &BroadcastEventHandler{
		cfg:      cfg,
		queueMan: queueMan,
		topics:   make(map[int]queue.Publisher),
	}
}

func (beh *BroadcastEventHandler) getTopic(shardID int) (queue.Publisher, error) {
	beh.mu.Lock()
	defer beh.mu.Unlock()

	if topic, ok := beh.topics[shardID]; ok {
		return topic, nil
	}

	topic, err := beh.queueMan.GetPublisher(fmt.Sprintf(beh.cfg.QueueEventDeliveryName, shardID))
	if err != nil {
		return nil, err
	}
	beh.topics[shardID] = topic
	return topic, nil
}

func (beh *BroadcastEventHandler) Name() string {
	return BroadcastEventName
}

func (beh *BroadcastEventHandler) PayloadType() any {
	return &fanout.Envelope{}
}

func (beh *BroadcastEventHandler) Validate(_ context.Context, payload any) error {
	env, ok := payload.(*fanout.Envelope)
	if !ok {
		return errors.New("invalid payload type, expected fanout.Envelope")
	}
	if env.ConnectionID == "" {
		return errors.New("envelope has no connection id")
	}
	return nil
}

func (beh *BroadcastEventHandler) Execute(ctx context.Context, payload any) error {
	env, ok := payload.(*fanout.Envelope)
	if !ok {
		return errors.New("invalid payload type, expected fanout.Envelope{}")
	}

	shardID := internal.DeliveryShard(env.ConnectionID, beh.cfg.ShardCount)

	logger := util.Log(ctx).WithFields(map[string]any{
		"connection_id": env.ConnectionID,
		"event_type":    env.Type,
		"shard_id":      shardID,
	})

	topic, err := beh.getTopic(shardID)
	if err != nil {
		logger.WithError(err).Error("failed to get delivery topic")
		return err
	}

	headers := map[string]string{
		internal.HeaderConnectionID: env.ConnectionID,
		internal.HeaderEventType:    env.Type,
		internal.HeaderShardID:      strconv.Itoa(shardID),
	}

	if pubErr := topic.Publish(ctx, env, headers); pubErr != nil {
		logger.WithError(pubErr).Error("failed to publish delivery")
		return pubErr
	}

	telemetry.EventsBroadcastCounter.Add(ctx, 1)
	return nil
}

// Emitter feeds envelopes into the event pipeline via the service events
// manager. It is the business layer's Broadcaster.
type Emitter struct {
	svc *frame.Service
}

func NewEmitter(svc *frame.Service) *Emitter {
	return &Emitter{svc: svc}
}

func (e *Emitter) Broadcast(ctx context.Context, env *fanout.Envelope) error {
	return e.svc.EventsManager().Emit(ctx, BroadcastEventName, env)
}
