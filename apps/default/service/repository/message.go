package repository

import (
	"context"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/framedata"

	"github.com/quipp/service-whatsapp/apps/default/service/models"
)

type messageRepository struct {
	framedata.BaseRepository[*models.Message]
}

// GetByID retrieves a message by its ID.
func (mr *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	message := &models.Message{}
	err := mr.Svc().DB(ctx, true).First(message, "id = ?", id).Error
	return message, err
}

// Save creates or updates a message.
func (mr *messageRepository) Save(ctx context.Context, message *models.Message) error {
	return mr.Svc().DB(ctx, false).Save(message).Error
}

// Delete soft deletes a message by its ID.
func (mr *messageRepository) Delete(ctx context.Context, id string) error {
	message, err := mr.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return mr.Svc().DB(ctx, false).Delete(message).Error
}

// GetByConnectionAndWaID looks a message up by its upstream id within one
// connection. Used to deduplicate replays of non-UUID upstream ids.
func (mr *messageRepository) GetByConnectionAndWaID(
	ctx context.Context,
	connectionID, waMessageID string,
) (*models.Message, error) {
	message := &models.Message{}
	err := mr.Svc().DB(ctx, true).
		Where("connection_id = ? AND wa_message_id = ?", connectionID, waMessageID).
		First(message).Error
	return message, err
}

// GetHistory retrieves messages for a conversation, newest first.
// beforeSentAt restricts results to strictly older messages when non-zero.
func (mr *messageRepository) GetHistory(
	ctx context.Context,
	conversationID string,
	beforeSentAt time.Time,
	limit int,
) ([]*models.Message, error) {
	var messages []*models.Message
	query := mr.Svc().DB(ctx, true).
		Where("conversation_id = ?", conversationID)

	if !beforeSentAt.IsZero() {
		query = query.Where("sent_at < ?", beforeSentAt)
	}

	query = query.Order("sent_at DESC").Order("id DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&messages).Error
	return messages, err
}

// UpdateDeliveryStatus records a delivery receipt transition.
func (mr *messageRepository) UpdateDeliveryStatus(ctx context.Context, id, status string) error {
	return mr.Svc().DB(ctx, false).
		Model(&models.Message{}).
		Where("id = ?", id).
		Update("delivery_status", status).Error
}

// ExistsByIDs checks which of the given message IDs already exist.
func (mr *messageRepository) ExistsByIDs(ctx context.Context, messageIDs []string) (map[string]bool, error) {
	exists := make(map[string]bool, len(messageIDs))
	if len(messageIDs) == 0 {
		return exists, nil
	}

	var found []string
	err := mr.Svc().DB(ctx, true).
		Model(&models.Message{}).
		Where("id IN ?", messageIDs).
		Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}

	for _, id := range messageIDs {
		exists[id] = false
	}
	for _, id := range found {
		exists[id] = true
	}
	return exists, nil
}

// NewMessageRepository creates a new message repository instance.
func NewMessageRepository(service *frame.Service) MessageRepository {
	return &messageRepository{
		BaseRepository: framedata.NewBaseRepository[*models.Message](service, func() *models.Message { return &models.Message{} }),
	}
}
