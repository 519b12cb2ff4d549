package repository

import (
	"context"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/framedata"
	"gorm.io/gorm"

	"github.com/quipp/service-whatsapp/apps/default/service/models"
)

type conversationRepository struct {
	framedata.BaseRepository[*models.Conversation]
}

// GetByID retrieves a conversation by its ID.
func (cr *conversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	conversation := &models.Conversation{}
	err := cr.Svc().DB(ctx, true).First(conversation, "id = ?", id).Error
	return conversation, err
}

// Save creates or updates a conversation.
func (cr *conversationRepository) Save(ctx context.Context, conversation *models.Conversation) error {
	return cr.Svc().DB(ctx, false).Save(conversation).Error
}

// Delete soft deletes a conversation by its ID.
func (cr *conversationRepository) Delete(ctx context.Context, id string) error {
	conversation, err := cr.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return cr.Svc().DB(ctx, false).Delete(conversation).Error
}

// GetByChat looks up the conversation keyed on (owner, connection, chat id).
func (cr *conversationRepository) GetByChat(
	ctx context.Context,
	ownerID, connectionID, chatID string,
) (*models.Conversation, error) {
	conversation := &models.Conversation{}
	err := cr.Svc().DB(ctx, true).
		Where("owner_id = ? AND connection_id = ? AND chat_id = ?", ownerID, connectionID, chatID).
		First(conversation).Error
	return conversation, err
}

// GetByConnectionID retrieves conversations for a connection, most recent activity first.
func (cr *conversationRepository) GetByConnectionID(
	ctx context.Context,
	ownerID, connectionID string,
	limit int,
) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	query := cr.Svc().DB(ctx, true).
		Where("owner_id = ? AND connection_id = ?", ownerID, connectionID).
		Order("last_message_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&conversations).Error
	return conversations, err
}

// UpdateActivity refreshes preview and last activity, bumping the unread
// counter for inbound messages.
func (cr *conversationRepository) UpdateActivity(
	ctx context.Context,
	id, preview string,
	at time.Time,
	incrementUnread bool,
) error {
	updates := map[string]any{
		"last_message_preview": preview,
		"last_message_at":      at,
	}
	if incrementUnread {
		updates["unread_count"] = gorm.Expr("unread_count + 1")
	}

	return cr.Svc().DB(ctx, false).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkRead zeroes the unread counter.
func (cr *conversationRepository) MarkRead(ctx context.Context, id string) error {
	return cr.Svc().DB(ctx, false).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("unread_count", 0).Error
}

// NewConversationRepository creates a new conversation repository instance.
func NewConversationRepository(service *frame.Service) ConversationRepository {
	return &conversationRepository{
		BaseRepository: framedata.NewBaseRepository[*models.Conversation](service, func() *models.Conversation { return &models.Conversation{} }),
	}
}
