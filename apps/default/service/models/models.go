package models

import (
	"time"

	"github.com/pitabwire/frame/data"
)

// ConnectionStatus is the lifecycle state of a whatsapp session.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "CONNECTING"
	StatusAwaitingQR   ConnectionStatus = "AWAITING_QR"
	StatusOpen         ConnectionStatus = "OPEN"
	StatusClosing      ConnectionStatus = "CLOSING"
	StatusDisconnected ConnectionStatus = "DISCONNECTED"
	StatusLoggedOut    ConnectionStatus = "LOGGED_OUT"
)

// Terminal reports whether the status permits no further transitions.
func (s ConnectionStatus) Terminal() bool {
	return s == StatusLoggedOut
}

// Message direction values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message delivery status values.
const (
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
	DeliveryFailed    = "failed"
)

// Connection represents a managed whatsapp account link.
type Connection struct {
	data.BaseModel
	OwnerID         string `gorm:"type:varchar(50);index:idx_connection_owner_id"`
	Name            string
	Status          string `gorm:"type:varchar(20)"`
	PhoneNumber     string `gorm:"type:varchar(30)"`
	WhatsAppID      string `gorm:"type:varchar(100)"`
	PushName        string
	LastConnectedAt time.Time
	Properties      data.JSONMap
}

// ToAPI converts Connection model to API representation.
func (c *Connection) ToAPI() *ConnectionAPI {
	if c == nil {
		return nil
	}

	api := &ConnectionAPI{
		ID:          c.GetID(),
		Name:        c.Name,
		Status:      c.Status,
		PhoneNumber: c.PhoneNumber,
		PushName:    c.PushName,
		CreatedAt:   c.CreatedAt,
	}
	if !c.LastConnectedAt.IsZero() {
		api.LastConnectedAt = &c.LastConnectedAt
	}
	return api
}

// ConnectionAPI is the wire representation of a connection snapshot.
// QRCode is only populated from the live registry, never from storage.
type ConnectionAPI struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	PhoneNumber     string     `json:"phoneNumber,omitempty"`
	PushName        string     `json:"pushName,omitempty"`
	QRCode          string     `json:"qrCode,omitempty"`
	LastConnectedAt *time.Time `json:"lastConnectedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Conversation represents a chat thread with a customer or group.
// Uniquely identified by (owner, connection, chat id).
type Conversation struct {
	data.BaseModel
	OwnerID      string `gorm:"type:varchar(50);index:idx_conversation_owner_connection"`
	ConnectionID string `gorm:"type:varchar(50);index:idx_conversation_owner_connection"`
	ChatID       string `gorm:"type:varchar(100);index:idx_conversation_chat_id"`
	PhoneNumber  string `gorm:"type:varchar(30)"`
	// DisplayName never changes once set.
	DisplayName        string
	IsGroup            bool
	LastMessagePreview string
	LastMessageAt      time.Time
	UnreadCount        int32
	Properties         data.JSONMap
}

// ToAPI converts Conversation model to API representation.
func (cv *Conversation) ToAPI() *ConversationAPI {
	if cv == nil {
		return nil
	}

	api := &ConversationAPI{
		ID:                 cv.GetID(),
		ConnectionID:       cv.ConnectionID,
		ChatID:             cv.ChatID,
		PhoneNumber:        cv.PhoneNumber,
		DisplayName:        cv.DisplayName,
		IsGroup:            cv.IsGroup,
		LastMessagePreview: cv.LastMessagePreview,
		UnreadCount:        cv.UnreadCount,
		CreatedAt:          cv.CreatedAt,
	}
	if !cv.LastMessageAt.IsZero() {
		api.LastMessageAt = &cv.LastMessageAt
	}
	return api
}

// ConversationAPI is the wire representation of a conversation.
type ConversationAPI struct {
	ID                 string     `json:"id"`
	ConnectionID       string     `json:"connectionId"`
	ChatID             string     `json:"chatId"`
	PhoneNumber        string     `json:"phoneNumber,omitempty"`
	DisplayName        string     `json:"displayName,omitempty"`
	IsGroup            bool       `json:"isGroup"`
	LastMessagePreview string     `json:"lastMessagePreview,omitempty"`
	LastMessageAt      *time.Time `json:"lastMessageAt,omitempty"`
	UnreadCount        int32      `json:"unreadCount"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// Message represents a durably held chat message.
// The ID field (from BaseModel) doubles as the idempotency key: upstream
// UUID-shaped ids are reused verbatim, everything else gets a generated id.
type Message struct {
	data.BaseModel
	OwnerID        string `gorm:"type:varchar(50)"`
	ConnectionID   string `gorm:"type:varchar(50);index:idx_message_connection_wa_id"`
	ConversationID string `gorm:"type:varchar(50);index:idx_message_conversation_sent_at"`
	ChatID         string `gorm:"type:varchar(100)"`
	WaMessageID    string `gorm:"type:varchar(100);index:idx_message_connection_wa_id"`
	Direction      string `gorm:"type:varchar(10)"`
	ContentType    string `gorm:"type:varchar(20)"`
	Body           string
	Caption        string
	MediaURL       string
	MediaMime      string `gorm:"type:varchar(100)"`
	DeliveryStatus string `gorm:"type:varchar(15)"`
	SentAt         time.Time `gorm:"index:idx_message_conversation_sent_at"`
	Raw            data.JSONMap
}

// ToAPI converts Message model to API representation.
func (m *Message) ToAPI() *MessageAPI {
	if m == nil {
		return nil
	}

	return &MessageAPI{
		ID:             m.GetID(),
		ConversationID: m.ConversationID,
		ChatID:         m.ChatID,
		WaMessageID:    m.WaMessageID,
		Direction:      m.Direction,
		ContentType:    m.ContentType,
		Body:           m.Body,
		Caption:        m.Caption,
		MediaURL:       m.MediaURL,
		MediaMime:      m.MediaMime,
		DeliveryStatus: m.DeliveryStatus,
		SentAt:         m.SentAt,
	}
}

// MessageAPI is the wire representation of a message.
type MessageAPI struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	ChatID         string    `json:"chatId"`
	WaMessageID    string    `json:"waMessageId,omitempty"`
	Direction      string    `json:"direction"`
	ContentType    string    `json:"contentType"`
	Body           string    `json:"body,omitempty"`
	Caption        string    `json:"caption,omitempty"`
	MediaURL       string    `json:"mediaUrl,omitempty"`
	MediaMime      string    `json:"mediaMime,omitempty"`
	DeliveryStatus string    `json:"deliveryStatus"`
	SentAt         time.Time `json:"sentAt"`
}
