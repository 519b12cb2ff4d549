package business

import (
	"context"
	"sort"
	"time"

	"github.com/pitabwire/util"

	"github.com/quipp/service-whatsapp/apps/default/config"
	"github.com/quipp/service-whatsapp/apps/default/service"
	"github.com/quipp/service-whatsapp/apps/default/service/models"
)

type readPath struct {
	cfg           *config.WhatsAppConfig
	conversations conversationStore
	messages      messageStore
	writer        *StoreWriter
}

// NewReadPath creates the query side for conversations and messages.
// Results merge the writer's fallback cache so traffic buffered during a
// store outage stays visible.
func NewReadPath(
	cfg *config.WhatsAppConfig,
	conversations conversationStore,
	messages messageStore,
	writer *StoreWriter,
) ReadPath {
	return &readPath{
		cfg:           cfg,
		conversations: conversations,
		messages:      messages,
		writer:        writer,
	}
}

func (rp *readPath) ListConversations(
	ctx context.Context,
	ownerID, connectionID string,
) ([]*models.ConversationAPI, error) {
	if connectionID == "" {
		return nil, service.ErrUnspecifiedID
	}

	stored, err := rp.conversations.GetByConnectionID(ctx, ownerID, connectionID, 0)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("connection_id", connectionID).
			Warn("listing stored conversations failed, serving fallback entries only")
		stored = nil
	}

	seen := make(map[string]bool, len(stored))
	merged := make([]*models.Conversation, 0, len(stored))
	for _, conv := range stored {
		seen[conv.GetID()] = true
		merged = append(merged, conv)
	}
	for _, conv := range rp.writer.fallback.conversationsForConnection(ownerID, connectionID) {
		if !seen[conv.GetID()] {
			merged = append(merged, conv)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].LastMessageAt.After(merged[j].LastMessageAt)
	})

	out := make([]*models.ConversationAPI, 0, len(merged))
	for _, conv := range merged {
		out = append(out, conv.ToAPI())
	}
	return out, nil
}

func (rp *readPath) ListMessages(
	ctx context.Context,
	ownerID, conversationID, cursor string,
	limit int,
) (*MessagePage, error) {
	if _, err := rp.resolveConversation(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}

	var before time.Time
	if cursor != "" {
		parsed, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return nil, service.ErrInvalidCursor
		}
		before = parsed
	}

	limit = rp.clampLimit(limit)

	stored, err := rp.messages.GetHistory(ctx, conversationID, before, limit+1)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("conversation_id", conversationID).
			Warn("reading stored history failed, serving fallback entries only")
		stored = nil
	}

	merged := rp.mergeFallback(stored, conversationID, before)

	hasMore := len(merged) > limit
	if hasMore {
		merged = merged[:limit]
	}

	page := &MessagePage{
		Items:   make([]*models.MessageAPI, 0, len(merged)),
		HasMore: hasMore,
	}
	for _, msg := range merged {
		page.Items = append(page.Items, msg.ToAPI())
	}
	if hasMore && len(merged) > 0 {
		page.NextCursor = merged[len(merged)-1].SentAt.Format(time.RFC3339Nano)
	}
	return page, nil
}

func (rp *readPath) MarkConversationRead(ctx context.Context, ownerID, conversationID string) error {
	conv, err := rp.resolveConversation(ctx, ownerID, conversationID)
	if err != nil {
		return err
	}

	rp.writer.fallback.markRead(conversationID)

	if err = rp.conversations.MarkRead(ctx, conv.GetID()); err != nil {
		if _, buffered := rp.writer.fallback.getConversation(conversationID); buffered {
			return nil
		}
		return err
	}
	return nil
}

// resolveConversation loads a conversation from either store and enforces
// ownership. Missing and foreign conversations are indistinguishable to the
// caller.
func (rp *readPath) resolveConversation(
	ctx context.Context,
	ownerID, conversationID string,
) (*models.Conversation, error) {
	if conversationID == "" {
		return nil, service.ErrUnspecifiedID
	}

	conv, err := rp.conversations.GetByID(ctx, conversationID)
	if err != nil || conv.GetID() == "" {
		buffered, ok := rp.writer.fallback.getConversation(conversationID)
		if !ok {
			return nil, service.ErrConversationNotFound
		}
		conv = buffered
	}

	if conv.OwnerID != ownerID {
		return nil, service.ErrConversationNotFound
	}
	return conv, nil
}

func (rp *readPath) clampLimit(limit int) int {
	if limit <= 0 {
		return rp.cfg.DefaultPageSize
	}
	if limit > rp.cfg.MaxPageSize {
		return rp.cfg.MaxPageSize
	}
	return limit
}

// mergeFallback folds buffered messages into the stored page, newest first,
// deduplicated by id.
func (rp *readPath) mergeFallback(
	stored []*models.Message,
	conversationID string,
	before time.Time,
) []*models.Message {
	buffered := rp.writer.fallback.messagesForConversation(conversationID)
	if len(buffered) == 0 {
		return stored
	}

	seen := make(map[string]bool, len(stored))
	merged := make([]*models.Message, 0, len(stored)+len(buffered))
	for _, msg := range stored {
		seen[msg.GetID()] = true
		merged = append(merged, msg)
	}
	for _, msg := range buffered {
		if seen[msg.GetID()] {
			continue
		}
		if !before.IsZero() && !msg.SentAt.Before(before) {
			continue
		}
		merged = append(merged, msg)
	}

	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].SentAt.Equal(merged[j].SentAt) {
			return merged[i].SentAt.After(merged[j].SentAt)
		}
		return merged[i].GetID() > merged[j].GetID()
	})
	return merged
}
