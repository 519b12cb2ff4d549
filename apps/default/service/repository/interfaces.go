package repository

import (
	"context"
	"time"

	"github.com/pitabwire/frame/datastore"
	"github.com/quipp/service-whatsapp/apps/default/service/models"
)

// ConnectionRepository defines the interface for connection data access operations.
type ConnectionRepository interface {
	datastore.BaseRepository[*models.Connection]
	GetByOwnerID(ctx context.Context, ownerID string) ([]*models.Connection, error)
	// List retrieves all connections across owners, used to rebuild the
	// live registry at startup.
	List(ctx context.Context) ([]*models.Connection, error)
	UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error
}

// ConversationRepository defines the interface for conversation data access operations.
type ConversationRepository interface {
	datastore.BaseRepository[*models.Conversation]
	// GetByChat looks up the conversation for a chat within one connection.
	GetByChat(ctx context.Context, ownerID, connectionID, chatID string) (*models.Conversation, error)
	GetByConnectionID(ctx context.Context, ownerID, connectionID string, limit int) ([]*models.Conversation, error)
	// UpdateActivity refreshes the preview and activity timestamp, optionally
	// bumping the unread counter for inbound traffic.
	UpdateActivity(ctx context.Context, id, preview string, at time.Time, incrementUnread bool) error
	MarkRead(ctx context.Context, id string) error
}

// MessageRepository defines the interface for message data access operations.
type MessageRepository interface {
	datastore.BaseRepository[*models.Message]
	GetByConnectionAndWaID(ctx context.Context, connectionID, waMessageID string) (*models.Message, error)
	// GetHistory retrieves messages newest first. A non-zero beforeSentAt
	// restricts results to strictly older messages.
	GetHistory(ctx context.Context, conversationID string, beforeSentAt time.Time, limit int) ([]*models.Message, error)
	UpdateDeliveryStatus(ctx context.Context, id, status string) error
	// ExistsByIDs checks if any of the given message IDs already exist.
	// Returns a map of messageID -> exists for deduplication.
	ExistsByIDs(ctx context.Context, messageIDs []string) (map[string]bool, error)
}
