package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pitabwire/frame/data"

	"github.com/quipp/service-whatsapp/apps/default/service/wasession"
)

const (
	userSuffix  = "@s.whatsapp.net"
	groupSuffix = "@g.us"
)

// Placeholder bodies for media without a caption.
var mediaPlaceholders = map[string]string{ //nolint:gochecknoglobals // lookup table
	wasession.KindImage:    "[image]",
	wasession.KindVideo:    "[video]",
	wasession.KindAudio:    "[audio]",
	wasession.KindDocument: "[document]",
	wasession.KindSticker:  "[sticker]",
	wasession.KindLocation: "[location]",
	wasession.KindContact:  "[contact]",
	wasession.KindReaction: "[reaction]",
}

// CanonicalChatID normalizes a remote address to a full jid. Bare phone
// numbers get the user suffix; addresses that already carry a suffix are
// kept as-is.
func CanonicalChatID(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if strings.Contains(addr, "@") {
		return addr
	}
	return strings.TrimPrefix(addr, "+") + userSuffix
}

// DisplayPhone strips the jid server suffix, leaving the bare number or
// group identifier for display.
func DisplayPhone(chatID string) string {
	chatID = strings.TrimSuffix(chatID, userSuffix)
	return strings.TrimSuffix(chatID, groupSuffix)
}

// PhoneFromWhatsAppID extracts the bare phone number from an account id
// like "5511999999999:12@s.whatsapp.net". The part after the colon is the
// device index, not part of the number.
func PhoneFromWhatsAppID(waID string) string {
	waID = DisplayPhone(waID)
	if i := strings.IndexByte(waID, ':'); i >= 0 {
		waID = waID[:i]
	}
	return waID
}

// IsGroupChat reports whether the address refers to a group conversation.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, groupSuffix)
}

// Normalizer flattens upstream message events into Message records.
// It's stateless and can be used concurrently.
type Normalizer struct{}

// NewNormalizer creates a new Normalizer instance.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize converts an inbound socket message into a Message record.
// ConversationID is left empty; the durability writer assigns it after the
// conversation lookup. The record id is likewise assigned by the writer.
func (n *Normalizer) Normalize(ownerID, connectionID string, in wasession.InboundMessage) *Message {
	chatID := CanonicalChatID(in.ChatID)

	direction := DirectionInbound
	status := DeliveryDelivered
	if in.FromMe {
		direction = DirectionOutbound
		status = DeliverySent
	}

	sentAt := in.Timestamp
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	msg := &Message{
		OwnerID:        ownerID,
		ConnectionID:   connectionID,
		ChatID:         chatID,
		WaMessageID:    in.ID,
		Direction:      direction,
		ContentType:    n.contentType(in.Kind),
		Body:           n.body(in),
		Caption:        in.Caption,
		MediaURL:       in.MediaURL,
		MediaMime:      in.MediaMime,
		DeliveryStatus: status,
		SentAt:         sentAt,
	}

	if len(in.Raw) > 0 {
		msg.Raw = data.JSONMap(in.Raw)
	}

	return msg
}

// contentType maps the upstream kind onto a stored content type.
// Unknown kinds are preserved so nothing is silently discarded.
func (n *Normalizer) contentType(kind string) string {
	if kind == "" {
		return wasession.KindText
	}
	return kind
}

// body picks the display body: message text, then caption, then a media
// placeholder for captionless media.
func (n *Normalizer) body(in wasession.InboundMessage) string {
	if in.Text != "" {
		return in.Text
	}
	if in.Caption != "" {
		return in.Caption
	}
	if placeholder, ok := mediaPlaceholders[in.Kind]; ok {
		return placeholder
	}
	if in.Kind == "" || in.Kind == wasession.KindText {
		return ""
	}
	return "[unsupported message]"
}

// Preview produces the conversation preview line for a message body.
// Truncation lands on a rune boundary so a multi-byte character is never
// split.
func Preview(body string) string {
	const maxPreview = 120
	body = strings.TrimSpace(body)
	if len(body) <= maxPreview {
		return body
	}

	cut := maxPreview
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}
