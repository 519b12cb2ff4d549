package business

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pitabwire/util"
	"gorm.io/gorm"

	"github.com/quipp/service-whatsapp/apps/default/config"
	"github.com/quipp/service-whatsapp/apps/default/service"
	"github.com/quipp/service-whatsapp/apps/default/service/fanout"
	"github.com/quipp/service-whatsapp/apps/default/service/models"
	"github.com/quipp/service-whatsapp/apps/default/service/wasession"
	"github.com/quipp/service-whatsapp/internal/resilience"
	"github.com/quipp/service-whatsapp/internal/telemetry"
)

// conversationNamespace seeds deterministic conversation ids. The same
// (owner, connection, chat) triple always maps to the same id, so a thread
// first seen during a store outage converges with its primary row on drain.
var conversationNamespace = uuid.MustParse("7a1f7c62-9d55-4b0a-8a31-52e86f0b2c11") //nolint:gochecknoglobals // uuid namespace

func conversationIDFor(ownerID, connectionID, chatID string) string {
	return uuid.NewSHA1(conversationNamespace, []byte(ownerID+"/"+connectionID+"/"+chatID)).String()
}

// deliveryRank orders receipt statuses so a late "delivered" never
// overwrites an earlier "read".
var deliveryRank = map[string]int{ //nolint:gochecknoglobals // lookup table
	models.DeliverySent:      0,
	models.DeliveryDelivered: 1,
	models.DeliveryRead:      2,
}

// StoreWriter is the durability writer. Writes go to the primary store
// through a circuit breaker; when the store misbehaves they divert to the
// in-process fallback cache and a background drain replays them later.
// Realtime broadcasts always happen after the write landed somewhere.
type StoreWriter struct {
	cfg           *config.WhatsAppConfig
	conversations conversationStore
	messages      messageStore
	broadcaster   Broadcaster
	normalizer    *models.Normalizer
	breaker       *resilience.Breaker
	fallback      *fallbackStore

	idGen func() string
}

// NewDurabilityWriter creates the durable write path for message traffic.
func NewDurabilityWriter(
	ctx context.Context,
	cfg *config.WhatsAppConfig,
	conversations conversationStore,
	messages messageStore,
	broadcaster Broadcaster,
) *StoreWriter {
	opts := resilience.StoreDefaults("primary-store")
	opts.FailureThreshold = cfg.StoreBreakerMaxFailures
	opts.Cooldown = time.Duration(cfg.StoreBreakerResetSeconds) * time.Second
	opts.OnStateChange = func(name string, from, to resilience.State) {
		util.Log(ctx).WithFields(map[string]any{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("store circuit breaker state change")
	}

	return &StoreWriter{
		cfg:           cfg,
		conversations: conversations,
		messages:      messages,
		broadcaster:   broadcaster,
		normalizer:    models.NewNormalizer(),
		breaker:       resilience.NewBreaker(opts),
		fallback:      newFallbackStore(cfg.FallbackCacheCapacity),
		idGen:         util.IDString,
	}
}

// PersistInbound stores a message event from the socket.
func (sw *StoreWriter) PersistInbound(
	ctx context.Context,
	ownerID, connectionID string,
	in wasession.InboundMessage,
) *models.Message {
	msg := sw.normalizer.Normalize(ownerID, connectionID, in)
	msg.ID = sw.durableID(in.ID)

	return sw.persist(ctx, msg, msg.Direction == models.DirectionInbound, in.SenderName)
}

// PersistOutbound stores a message this service just pushed upstream.
func (sw *StoreWriter) PersistOutbound(
	ctx context.Context,
	ownerID, connectionID, chatID, waMessageID string,
	out wasession.OutboundMessage,
) *models.Message {
	kind := out.Kind
	if kind == "" {
		kind = wasession.KindText
	}
	body := out.Body
	if body == "" {
		body = out.Caption
	}

	msg := &models.Message{
		OwnerID:        ownerID,
		ConnectionID:   connectionID,
		ChatID:         models.CanonicalChatID(chatID),
		WaMessageID:    waMessageID,
		Direction:      models.DirectionOutbound,
		ContentType:    kind,
		Body:           body,
		Caption:        out.Caption,
		MediaURL:       out.MediaURL,
		MediaMime:      out.MediaMime,
		DeliveryStatus: models.DeliverySent,
		SentAt:         time.Now(),
	}
	msg.ID = sw.durableID(waMessageID)

	return sw.persist(ctx, msg, false, "")
}

// durableID reuses upstream ids that are already uuid shaped so replays of
// the same event map onto the same row. Anything else gets a fresh id and
// relies on the (connection, upstream id) index for dedup.
func (sw *StoreWriter) durableID(upstreamID string) string {
	if upstreamID != "" && uuid.Validate(upstreamID) == nil {
		return upstreamID
	}
	return sw.idGen()
}

// persist is the single write path for inbound and outbound messages. It
// cannot fail: writes the primary store refuses land in the fallback cache.
func (sw *StoreWriter) persist(
	ctx context.Context,
	msg *models.Message,
	incrementUnread bool,
	senderName string,
) *models.Message {
	start := time.Now()

	if sw.fallback.hasMessage(msg.GetID(), msg.ConnectionID, msg.WaMessageID) {
		telemetry.MessagesDedupedCounter.Add(ctx, 1)
		return msg
	}

	var duplicate bool
	err := sw.breaker.Execute(func() error {
		exists, dupErr := sw.isDuplicate(ctx, msg)
		if dupErr != nil {
			return dupErr
		}
		if exists {
			duplicate = true
			return nil
		}

		conv, convErr := sw.ensurePrimaryConversation(ctx, msg, senderName)
		if convErr != nil {
			return convErr
		}
		msg.ConversationID = conv.GetID()

		if saveErr := sw.messages.Save(ctx, msg); saveErr != nil {
			return saveErr
		}

		preview := models.Preview(msg.Body)
		if actErr := sw.conversations.UpdateActivity(ctx, conv.GetID(), preview, msg.SentAt, incrementUnread); actErr != nil {
			util.Log(ctx).WithError(actErr).WithField("conversation_id", conv.GetID()).
				Warn("conversation activity update failed")
		}
		return nil
	})

	if duplicate {
		telemetry.MessagesDedupedCounter.Add(ctx, 1)
		return msg
	}

	if err != nil {
		sw.divertToFallback(ctx, msg, incrementUnread, senderName, err)
	} else {
		telemetry.MessagesPersistedCounter.Add(ctx, 1)
	}

	telemetry.PersistLatencyHistogram.Record(ctx, float64(time.Since(start).Milliseconds()))

	sw.broadcastMessage(ctx, msg)
	return msg
}

// isDuplicate checks both dedup keys against the primary store.
func (sw *StoreWriter) isDuplicate(ctx context.Context, msg *models.Message) (bool, error) {
	exists, err := sw.messages.ExistsByIDs(ctx, []string{msg.GetID()})
	if err != nil {
		return false, err
	}
	if exists[msg.GetID()] {
		return true, nil
	}

	if msg.WaMessageID == "" {
		return false, nil
	}
	existing, err := sw.messages.GetByConnectionAndWaID(ctx, msg.ConnectionID, msg.WaMessageID)
	if err == nil && existing.GetID() != "" {
		return true, nil
	}
	return false, nil
}

// ensurePrimaryConversation finds or creates the thread for a message.
// The display name is written once at creation and never overwritten.
func (sw *StoreWriter) ensurePrimaryConversation(
	ctx context.Context,
	msg *models.Message,
	senderName string,
) (*models.Conversation, error) {
	conv, err := sw.conversations.GetByChat(ctx, msg.OwnerID, msg.ConnectionID, msg.ChatID)
	if err == nil && conv.GetID() != "" {
		return conv, nil
	}

	if buffered, ok := sw.fallback.getConversationByChat(msg.OwnerID, msg.ConnectionID, msg.ChatID); ok {
		return buffered, nil
	}

	conv = sw.newConversation(msg, senderName)
	if err = sw.conversations.Save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (sw *StoreWriter) newConversation(msg *models.Message, senderName string) *models.Conversation {
	conv := &models.Conversation{
		OwnerID:      msg.OwnerID,
		ConnectionID: msg.ConnectionID,
		ChatID:       msg.ChatID,
		PhoneNumber:  models.DisplayPhone(msg.ChatID),
		DisplayName:  senderName,
		IsGroup:      models.IsGroupChat(msg.ChatID),
	}
	conv.ID = conversationIDFor(msg.OwnerID, msg.ConnectionID, msg.ChatID)
	return conv
}

// divertToFallback buffers a message the primary store refused.
func (sw *StoreWriter) divertToFallback(
	ctx context.Context,
	msg *models.Message,
	incrementUnread bool,
	senderName string,
	cause error,
) {
	conv, ok := sw.fallback.getConversationByChat(msg.OwnerID, msg.ConnectionID, msg.ChatID)
	if !ok {
		// The thread may exist in the primary store even though the write
		// failed; a read-only lookup is still worth one attempt.
		if existing, convErr := sw.conversations.GetByChat(
			ctx, msg.OwnerID, msg.ConnectionID, msg.ChatID,
		); convErr == nil && existing.GetID() != "" {
			conv = existing
		} else {
			conv = sw.newConversation(msg, senderName)
			sw.fallback.putConversation(conv)
		}
	}

	msg.ConversationID = conv.GetID()
	sw.fallback.putMessage(ctx, msg)
	sw.fallback.touchConversation(conv.GetID(), models.Preview(msg.Body), msg.SentAt, incrementUnread)

	telemetry.MessagesFallbackCounter.Add(ctx, 1)
	util.Log(ctx).WithError(cause).WithFields(map[string]any{
		"connection_id": msg.ConnectionID,
		"message_id":    msg.GetID(),
	}).Warn("primary store write failed, message diverted to fallback cache")
}

// ApplyReceipt records a delivery status transition. Regressions are
// dropped so a late delivered receipt never undoes a read.
func (sw *StoreWriter) ApplyReceipt(
	ctx context.Context,
	ownerID, connectionID string,
	receipt wasession.Receipt,
) error {
	if receipt.MessageID == "" {
		return nil
	}

	rank, known := deliveryRank[receipt.Status]
	if !known {
		return nil
	}

	if msg, ok := sw.fallback.getMessageByWaID(connectionID, receipt.MessageID); ok {
		if deliveryRank[msg.DeliveryStatus] >= rank {
			return nil
		}
		msg.DeliveryStatus = receipt.Status
		sw.broadcastStatus(ctx, msg)
		return nil
	}

	var msg *models.Message
	var notFound bool
	err := sw.breaker.Execute(func() error {
		found, getErr := sw.messages.GetByConnectionAndWaID(ctx, connectionID, receipt.MessageID)
		if getErr != nil {
			// A missing row is a receipt for a message this service never
			// stored, not a store failure.
			if errors.Is(getErr, gorm.ErrRecordNotFound) {
				notFound = true
				return nil
			}
			return getErr
		}
		if found.OwnerID != ownerID || deliveryRank[found.DeliveryStatus] >= rank {
			return nil
		}
		if updErr := sw.messages.UpdateDeliveryStatus(ctx, found.GetID(), receipt.Status); updErr != nil {
			return updErr
		}
		found.DeliveryStatus = receipt.Status
		msg = found
		return nil
	})
	if err != nil {
		return err
	}
	if notFound {
		return service.ErrMessageNotFound
	}

	if msg != nil {
		sw.broadcastStatus(ctx, msg)
	}
	return nil
}

// StartDrain launches the background loop that replays fallback entries
// into the primary store. Runs until ctx is cancelled.
func (sw *StoreWriter) StartDrain(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sw.cfg.FallbackDrainInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.drainOnce(ctx)
			}
		}
	}()
}

// drainOnce replays buffered conversations then messages, stopping early
// when the breaker trips again.
func (sw *StoreWriter) drainOnce(ctx context.Context) {
	if sw.breaker.State() == resilience.StateOpen {
		return
	}

	for _, conv := range sw.fallback.snapshotConversations() {
		err := sw.breaker.Execute(func() error {
			// A thread that already exists in the primary store keeps its
			// row; buffered copies only fill genuine gaps.
			existing, getErr := sw.conversations.GetByID(ctx, conv.GetID())
			if getErr == nil && existing.GetID() != "" {
				return nil
			}
			return sw.conversations.Save(ctx, conv)
		})
		if err != nil {
			return
		}
		sw.fallback.removeConversation(conv)
	}

	drained := 0
	for _, msg := range sw.fallback.snapshotMessages() {
		err := sw.breaker.Execute(func() error {
			exists, dupErr := sw.isDuplicate(ctx, msg)
			if dupErr != nil {
				return dupErr
			}
			if exists {
				return nil
			}
			return sw.messages.Save(ctx, msg)
		})
		if err != nil {
			break
		}
		sw.fallback.removeMessage(msg)
		drained++
	}

	if drained > 0 {
		telemetry.FallbackDrainedCounter.Add(ctx, int64(drained))
		util.Log(ctx).WithField("count", drained).Info("drained fallback cache into primary store")
	}
}

// FallbackDepth reports buffered message count, exposed for health checks.
func (sw *StoreWriter) FallbackDepth() int {
	return sw.fallback.messageCount()
}

func (sw *StoreWriter) broadcastMessage(ctx context.Context, msg *models.Message) {
	sw.publish(ctx, msg.ConnectionID, fanout.EventMessage, msg.ToAPI())
}

func (sw *StoreWriter) broadcastStatus(ctx context.Context, msg *models.Message) {
	sw.publish(ctx, msg.ConnectionID, fanout.EventMessageStatus, map[string]string{
		"messageId":      msg.GetID(),
		"conversationId": msg.ConversationID,
		"deliveryStatus": msg.DeliveryStatus,
	})
}

func (sw *StoreWriter) publish(ctx context.Context, connectionID, eventType string, payload any) {
	if sw.broadcaster == nil {
		return
	}
	env, err := fanout.NewEnvelope(connectionID, eventType, payload)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("could not build realtime envelope")
		return
	}
	if err = sw.broadcaster.Broadcast(ctx, env); err != nil {
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"connection_id": connectionID,
			"event_type":    eventType,
		}).Warn("realtime broadcast failed")
	}
}
