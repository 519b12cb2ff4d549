package business

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quipp/service-whatsapp/apps/default/service/models"
)

func bufferedMessage(id, conversationID string, sentAt time.Time) *models.Message {
	msg := &models.Message{
		OwnerID:        "owner-1",
		ConnectionID:   "conn-1",
		ConversationID: conversationID,
		ChatID:         "5511888880000@s.whatsapp.net",
		WaMessageID:    "WA-" + id,
		Direction:      models.DirectionInbound,
		ContentType:    "text",
		Body:           "body " + id,
		DeliveryStatus: models.DeliveryDelivered,
		SentAt:         sentAt,
	}
	msg.ID = id
	return msg
}

func TestFallbackStore_PutAndLookup(t *testing.T) {
	fs := newFallbackStore(10)
	ctx := context.Background()

	msg := bufferedMessage("m1", "conv-1", time.Now())
	fs.putMessage(ctx, msg)

	assert.True(t, fs.hasMessage("m1", "conn-1", "WA-m1"))
	assert.True(t, fs.hasMessage("other", "conn-1", "WA-m1"), "upstream id lookup")
	assert.False(t, fs.hasMessage("other", "conn-1", "WA-unknown"))

	got, ok := fs.getMessageByWaID("conn-1", "WA-m1")
	require.True(t, ok)
	assert.Equal(t, "m1", got.GetID())

	assert.Equal(t, 1, fs.messageCount())
}

func TestFallbackStore_PutIsIdempotent(t *testing.T) {
	fs := newFallbackStore(10)
	ctx := context.Background()

	msg := bufferedMessage("m1", "conv-1", time.Now())
	fs.putMessage(ctx, msg)
	fs.putMessage(ctx, msg)

	assert.Equal(t, 1, fs.messageCount())
	assert.Len(t, fs.messagesForConversation("conv-1"), 1)
}

func TestFallbackStore_CapacityEvictsOldest(t *testing.T) {
	fs := newFallbackStore(3)
	ctx := context.Background()
	base := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

	for i := range 4 {
		fs.putMessage(ctx, bufferedMessage(fmt.Sprintf("m%d", i), "conv-1", base.Add(time.Duration(i)*time.Minute)))
	}

	assert.Equal(t, 3, fs.messageCount())
	assert.False(t, fs.hasMessage("m0", "conn-1", "WA-m0"), "oldest entry is evicted")
	assert.True(t, fs.hasMessage("m3", "conn-1", "WA-m3"))
}

func TestFallbackStore_MessagesNewestFirst(t *testing.T) {
	fs := newFallbackStore(10)
	ctx := context.Background()
	base := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

	fs.putMessage(ctx, bufferedMessage("m0", "conv-1", base))
	fs.putMessage(ctx, bufferedMessage("m2", "conv-1", base.Add(2*time.Minute)))
	fs.putMessage(ctx, bufferedMessage("m1", "conv-1", base.Add(time.Minute)))
	fs.putMessage(ctx, bufferedMessage("x1", "conv-other", base.Add(3*time.Minute)))

	got := fs.messagesForConversation("conv-1")
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].GetID())
	assert.Equal(t, "m1", got[1].GetID())
	assert.Equal(t, "m0", got[2].GetID())
}

func TestFallbackStore_Conversations(t *testing.T) {
	fs := newFallbackStore(10)

	conv := &models.Conversation{
		OwnerID:      "owner-1",
		ConnectionID: "conn-1",
		ChatID:       "5511888880000@s.whatsapp.net",
	}
	conv.ID = "conv-1"
	fs.putConversation(conv)

	got, ok := fs.getConversation("conv-1")
	require.True(t, ok)
	assert.Equal(t, "conv-1", got.GetID())

	byChat, ok := fs.getConversationByChat("owner-1", "conn-1", "5511888880000@s.whatsapp.net")
	require.True(t, ok)
	assert.Equal(t, "conv-1", byChat.GetID())

	_, ok = fs.getConversationByChat("owner-2", "conn-1", "5511888880000@s.whatsapp.net")
	assert.False(t, ok)

	listed := fs.conversationsForConnection("owner-1", "conn-1")
	assert.Len(t, listed, 1)
}

func TestFallbackStore_TouchAndMarkRead(t *testing.T) {
	fs := newFallbackStore(10)

	conv := &models.Conversation{OwnerID: "owner-1", ConnectionID: "conn-1", ChatID: "chat"}
	conv.ID = "conv-1"
	fs.putConversation(conv)

	at := time.Now()
	fs.touchConversation("conv-1", "latest words", at, true)
	fs.touchConversation("conv-1", "more words", at.Add(time.Minute), true)

	got, ok := fs.getConversation("conv-1")
	require.True(t, ok)
	assert.Equal(t, int32(2), got.UnreadCount)
	assert.Equal(t, "more words", got.LastMessagePreview)

	fs.markRead("conv-1")
	got, _ = fs.getConversation("conv-1")
	assert.Equal(t, int32(0), got.UnreadCount)
}

func TestFallbackStore_RemoveMessage(t *testing.T) {
	fs := newFallbackStore(10)
	ctx := context.Background()

	msg := bufferedMessage("m1", "conv-1", time.Now())
	fs.putMessage(ctx, msg)
	fs.removeMessage(msg)

	assert.Equal(t, 0, fs.messageCount())
	assert.False(t, fs.hasMessage("m1", "conn-1", "WA-m1"))
	assert.Empty(t, fs.messagesForConversation("conv-1"))
}
