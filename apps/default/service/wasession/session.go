// Package wasession defines the contract between the service and a whatsapp
// socket implementation. Business code only ever sees these types; the
// concrete transport lives behind the Dialer.
package wasession

import (
	"context"
	"time"
)

// CloseReason categorises why a session ended.
type CloseReason int

const (
	CloseUnknown CloseReason = iota
	// CloseConnectionLost covers network drops and server-side restarts.
	// The supervisor schedules a reconnect for these.
	CloseConnectionLost
	// CloseLoggedOut means the account was unpaired. Terminal, no reconnect.
	CloseLoggedOut
)

func (r CloseReason) String() string {
	switch r {
	case CloseConnectionLost:
		return "connection-lost"
	case CloseLoggedOut:
		return "logged-out"
	default:
		return "unknown"
	}
}

// EventKind identifies the type of a session event.
type EventKind int

const (
	EventQR EventKind = iota
	EventOpen
	EventClose
	EventMessage
	EventReceipt
	EventTyping
)

// Message content kinds as reported by the upstream socket.
const (
	KindText     = "text"
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindDocument = "document"
	KindSticker  = "sticker"
	KindLocation = "location"
	KindContact  = "contact"
	KindReaction = "reaction"
)

// Identity describes the account behind an open session.
type Identity struct {
	// WhatsAppID is the raw upstream identifier, e.g. "5511999999999:12@s.whatsapp.net".
	WhatsAppID string
	PushName   string
}

// InboundMessage is a message event as delivered by the socket.
type InboundMessage struct {
	ID         string // upstream message id, not guaranteed unique shape
	ChatID     string // remote jid, may be a bare number
	SenderName string
	FromMe     bool
	Kind       string
	Text       string
	Caption    string
	MediaURL   string
	MediaMime  string
	Timestamp  time.Time
	Raw        map[string]any
}

// Receipt reports a delivery status change for a previously sent message.
type Receipt struct {
	MessageID string
	ChatID    string
	Status    string // delivered, read
}

// Typing reports a typing indicator change in a chat.
type Typing struct {
	ChatID   string
	IsTyping bool
}

// Event is a single occurrence on a session's event stream.
// Exactly one of the pointer fields is set, matching Kind.
type Event struct {
	Kind        EventKind
	QR          string // base64 data URL, EventQR only
	Identity    *Identity
	Message     *InboundMessage
	Receipt     *Receipt
	Typing      *Typing
	CloseReason CloseReason
	Err         error
}

// OutboundMessage is a message to push upstream.
type OutboundMessage struct {
	Kind      string
	Body      string
	Caption   string
	MediaURL  string
	MediaMime string
	FileName  string
}

// Session is a single live whatsapp socket.
//
// Events() yields lifecycle and message events until the session closes;
// the channel is closed after the terminal EventClose. Send blocks until the
// upstream acknowledges or ctx expires.
type Session interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, chatID string, msg OutboundMessage) (string, error)
	// RecentMessages returns the most recent chat history available upstream,
	// used for best-effort backfill after a session opens.
	RecentMessages(ctx context.Context, limit int) ([]InboundMessage, error)
	Logout(ctx context.Context) error
	Events() <-chan Event
	Close() error
}

// Dialer creates sessions. The connectionID keys any stored credentials so a
// redial resumes the same account pairing.
type Dialer interface {
	Dial(ctx context.Context, connectionID string) (Session, error)
}
