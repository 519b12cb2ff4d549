package models_test

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quipp/service-whatsapp/apps/default/service/models"
	"github.com/quipp/service-whatsapp/apps/default/service/wasession"
)

func TestCanonicalChatID(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare number", "5511999999999", "5511999999999@s.whatsapp.net"},
		{"plus prefix stripped", "+5511999999999", "5511999999999@s.whatsapp.net"},
		{"already suffixed", "5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net"},
		{"group jid kept", "12036304@g.us", "12036304@g.us"},
		{"whitespace trimmed", "  5511999999999  ", "5511999999999@s.whatsapp.net"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, models.CanonicalChatID(tc.in))
		})
	}
}

func TestDisplayPhone(t *testing.T) {
	assert.Equal(t, "5511999999999", models.DisplayPhone("5511999999999@s.whatsapp.net"))
	assert.Equal(t, "12036304", models.DisplayPhone("12036304@g.us"))
	assert.Equal(t, "5511999999999", models.DisplayPhone("5511999999999"))
}

func TestPhoneFromWhatsAppID(t *testing.T) {
	assert.Equal(t, "5511999999999", models.PhoneFromWhatsAppID("5511999999999:12@s.whatsapp.net"))
	assert.Equal(t, "5511999999999", models.PhoneFromWhatsAppID("5511999999999@s.whatsapp.net"))
	assert.Equal(t, "5511999999999", models.PhoneFromWhatsAppID("5511999999999"))
}

func TestIsGroupChat(t *testing.T) {
	assert.True(t, models.IsGroupChat("12036304@g.us"))
	assert.False(t, models.IsGroupChat("5511999999999@s.whatsapp.net"))
	assert.False(t, models.IsGroupChat("5511999999999"))
}

func TestNormalizer_Normalize_Text(t *testing.T) {
	n := models.NewNormalizer()
	sentAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	msg := n.Normalize("owner-1", "conn-1", wasession.InboundMessage{
		ID:        "ABCD1234",
		ChatID:    "5511999999999",
		Kind:      wasession.KindText,
		Text:      "hello there",
		Timestamp: sentAt,
	})

	require.NotNil(t, msg)
	assert.Equal(t, "owner-1", msg.OwnerID)
	assert.Equal(t, "conn-1", msg.ConnectionID)
	assert.Equal(t, "5511999999999@s.whatsapp.net", msg.ChatID)
	assert.Equal(t, "ABCD1234", msg.WaMessageID)
	assert.Equal(t, models.DirectionInbound, msg.Direction)
	assert.Equal(t, wasession.KindText, msg.ContentType)
	assert.Equal(t, "hello there", msg.Body)
	assert.Equal(t, models.DeliveryDelivered, msg.DeliveryStatus)
	assert.Equal(t, sentAt, msg.SentAt)
	assert.Empty(t, msg.ConversationID, "conversation assignment belongs to the writer")
}

func TestNormalizer_Normalize_MediaPlaceholders(t *testing.T) {
	n := models.NewNormalizer()

	cases := []struct {
		kind string
		want string
	}{
		{wasession.KindImage, "[image]"},
		{wasession.KindVideo, "[video]"},
		{wasession.KindAudio, "[audio]"},
		{wasession.KindDocument, "[document]"},
		{wasession.KindSticker, "[sticker]"},
		{wasession.KindLocation, "[location]"},
		{wasession.KindContact, "[contact]"},
		{wasession.KindReaction, "[reaction]"},
	}

	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			msg := n.Normalize("o", "c", wasession.InboundMessage{
				ID:     "id-" + tc.kind,
				ChatID: "5511999999999",
				Kind:   tc.kind,
			})
			assert.Equal(t, tc.want, msg.Body)
			assert.Equal(t, tc.kind, msg.ContentType)
		})
	}
}

func TestNormalizer_Normalize_CaptionWins(t *testing.T) {
	n := models.NewNormalizer()

	msg := n.Normalize("o", "c", wasession.InboundMessage{
		ID:       "id-1",
		ChatID:   "5511999999999",
		Kind:     wasession.KindImage,
		Caption:  "look at this",
		MediaURL: "https://cdn.example.com/img.jpg",
	})

	assert.Equal(t, "look at this", msg.Body)
	assert.Equal(t, "look at this", msg.Caption)
	assert.Equal(t, "https://cdn.example.com/img.jpg", msg.MediaURL)
}

func TestNormalizer_Normalize_FromMe(t *testing.T) {
	n := models.NewNormalizer()

	msg := n.Normalize("o", "c", wasession.InboundMessage{
		ID:     "id-1",
		ChatID: "5511999999999",
		Kind:   wasession.KindText,
		Text:   "sent from phone",
		FromMe: true,
	})

	assert.Equal(t, models.DirectionOutbound, msg.Direction)
	assert.Equal(t, models.DeliverySent, msg.DeliveryStatus)
}

func TestNormalizer_Normalize_UnknownKind(t *testing.T) {
	n := models.NewNormalizer()

	msg := n.Normalize("o", "c", wasession.InboundMessage{
		ID:     "id-1",
		ChatID: "5511999999999",
		Kind:   "poll",
	})

	assert.Equal(t, "poll", msg.ContentType)
	assert.Equal(t, "[unsupported message]", msg.Body)
}

func TestNormalizer_Normalize_DefaultsTimestamp(t *testing.T) {
	n := models.NewNormalizer()

	msg := n.Normalize("o", "c", wasession.InboundMessage{
		ID:     "id-1",
		ChatID: "5511999999999",
		Kind:   wasession.KindText,
		Text:   "x",
	})

	assert.WithinDuration(t, time.Now(), msg.SentAt, 2*time.Second)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", models.Preview("  short  "))

	long := strings.Repeat("0123456789", 30)
	assert.Len(t, models.Preview(long), 120)
}

func TestPreview_NeverSplitsRune(t *testing.T) {
	// The 120th byte falls in the middle of the two-byte "ç".
	body := strings.Repeat("a", 119) + "ção do pedido chegou"

	preview := models.Preview(body)
	assert.True(t, utf8.ValidString(preview))
	assert.Equal(t, strings.Repeat("a", 119), preview)
}
