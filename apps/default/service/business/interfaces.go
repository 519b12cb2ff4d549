package business

import (
	"context"
	"time"

	"github.com/quipp/service-whatsapp/apps/default/service/fanout"
	"github.com/quipp/service-whatsapp/apps/default/service/models"
	"github.com/quipp/service-whatsapp/apps/default/service/wasession"
)

// ConnectionRegistry manages the set of live whatsapp connections for the
// service instance.
type ConnectionRegistry interface {
	// CreateConnection registers a connection and starts its supervisor.
	CreateConnection(ctx context.Context, ownerID string, req CreateConnectionRequest) (*models.ConnectionAPI, error)

	// GetConnection returns a snapshot of one connection, live or persisted.
	GetConnection(ctx context.Context, ownerID, id string) (*models.ConnectionAPI, error)

	// ListConnections returns snapshots of all of the owner's connections.
	ListConnections(ctx context.Context, ownerID string) ([]*models.ConnectionAPI, error)

	// DeleteConnection tears a connection down. In-flight sends complete
	// first; new sends fail fast once deletion starts.
	DeleteConnection(ctx context.Context, ownerID, id string) error

	// SendMessage pushes a message through the live session and persists it.
	SendMessage(ctx context.Context, ownerID, id string, req SendMessageRequest) (*SendMessageResult, error)

	// RestoreFromStore loads persisted connections into the registry as
	// disconnected entries at startup.
	RestoreFromStore(ctx context.Context) error

	// Stats returns current registry size and capacity.
	Stats() (size, capacity int32)

	Shutdown(ctx context.Context) error
}

// CreateConnectionRequest describes a new connection. ID is optional; a
// caller-supplied id keeps the connection addressable across recreations,
// otherwise one is generated. PhoneHint pre-fills the displayed number until
// the handshake captures the real identity.
type CreateConnectionRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	PhoneHint string `json:"phoneHint,omitempty"`
}

// SendMessageRequest describes an outbound message. ClientCorrelationID is
// an opaque caller token echoed back so optimistic UI entries can be matched
// to the stored message.
type SendMessageRequest struct {
	To                  string `json:"to"`
	Kind                string `json:"kind,omitempty"`
	Body                string `json:"body,omitempty"`
	Caption             string `json:"caption,omitempty"`
	MediaURL            string `json:"mediaUrl,omitempty"`
	MediaMime           string `json:"mediaMime,omitempty"`
	FileName            string `json:"fileName,omitempty"`
	ClientCorrelationID string `json:"clientCorrelationId,omitempty"`
}

// SendMessageResult reports the durable id and status of a sent message.
type SendMessageResult struct {
	MessageID           string `json:"messageId"`
	Status              string `json:"status"`
	ClientCorrelationID string `json:"clientCorrelationId,omitempty"`
}

// DurabilityWriter is the durable write path for message traffic. Persist
// calls always succeed: a message the primary store refuses lands in the
// in-process fallback cache, stays readable, and replays never duplicate.
type DurabilityWriter interface {
	PersistInbound(
		ctx context.Context,
		ownerID, connectionID string,
		in wasession.InboundMessage,
	) *models.Message

	PersistOutbound(
		ctx context.Context,
		ownerID, connectionID, chatID, waMessageID string,
		out wasession.OutboundMessage,
	) *models.Message

	// ApplyReceipt records a delivery status transition for a sent message.
	ApplyReceipt(ctx context.Context, ownerID, connectionID string, receipt wasession.Receipt) error
}

// ReadPath serves conversation and message reads, merging the fallback cache
// so writes diverted from the primary store stay visible before drain.
type ReadPath interface {
	ListConversations(ctx context.Context, ownerID, connectionID string) ([]*models.ConversationAPI, error)
	ListMessages(ctx context.Context, ownerID, conversationID, cursor string, limit int) (*MessagePage, error)
	MarkConversationRead(ctx context.Context, ownerID, conversationID string) error
}

// MessagePage is one page of messages, newest first.
type MessagePage struct {
	Items      []*models.MessageAPI `json:"items"`
	NextCursor string               `json:"nextCursor,omitempty"`
	HasMore    bool                 `json:"hasMore"`
}

// Broadcaster pushes realtime envelopes towards the fan-out pipeline.
type Broadcaster interface {
	Broadcast(ctx context.Context, env *fanout.Envelope) error
}

// conversationStore is the slice of the conversation repository the business
// layer depends on.
type conversationStore interface {
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	Save(ctx context.Context, conversation *models.Conversation) error
	GetByChat(ctx context.Context, ownerID, connectionID, chatID string) (*models.Conversation, error)
	GetByConnectionID(ctx context.Context, ownerID, connectionID string, limit int) ([]*models.Conversation, error)
	UpdateActivity(ctx context.Context, id, preview string, at time.Time, incrementUnread bool) error
	MarkRead(ctx context.Context, id string) error
}

// messageStore is the slice of the message repository the business layer
// depends on.
type messageStore interface {
	GetByID(ctx context.Context, id string) (*models.Message, error)
	Save(ctx context.Context, message *models.Message) error
	GetByConnectionAndWaID(ctx context.Context, connectionID, waMessageID string) (*models.Message, error)
	GetHistory(ctx context.Context, conversationID string, beforeSentAt time.Time, limit int) ([]*models.Message, error)
	UpdateDeliveryStatus(ctx context.Context, id, status string) error
	ExistsByIDs(ctx context.Context, messageIDs []string) (map[string]bool, error)
}

// connectionStore is the slice of the connection repository the business
// layer depends on.
type connectionStore interface {
	GetByID(ctx context.Context, id string) (*models.Connection, error)
	Save(ctx context.Context, connection *models.Connection) error
	Delete(ctx context.Context, id string) error
	GetByOwnerID(ctx context.Context, ownerID string) ([]*models.Connection, error)
	List(ctx context.Context) ([]*models.Connection, error)
	UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error
}
