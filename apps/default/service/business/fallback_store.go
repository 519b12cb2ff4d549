package business

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/util"

	"github.com/quipp/service-whatsapp/apps/default/service/models"
)

// fallbackStore is the in-process overflow buffer for writes the primary
// store could not take. Everything in here stays readable through the read
// path and is drained back once the store recovers. Bounded; when full the
// oldest message is evicted so fresh traffic is never refused.
type fallbackStore struct {
	mu       sync.RWMutex
	capacity int

	messages       map[string]*models.Message
	byWaID         map[string]string   // connectionID+"/"+waMessageID -> message id
	byConversation map[string][]string // conversationID -> message ids, insertion order

	conversations map[string]*models.Conversation
	convByChat    map[string]string // ownerID+"/"+connectionID+"/"+chatID -> conversation id
}

func newFallbackStore(capacity int) *fallbackStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &fallbackStore{
		capacity:       capacity,
		messages:       make(map[string]*models.Message),
		byWaID:         make(map[string]string),
		byConversation: make(map[string][]string),
		conversations:  make(map[string]*models.Conversation),
		convByChat:     make(map[string]string),
	}
}

func waKey(connectionID, waMessageID string) string {
	return connectionID + "/" + waMessageID
}

func chatKey(ownerID, connectionID, chatID string) string {
	return ownerID + "/" + connectionID + "/" + chatID
}

// putMessage stores a message, evicting the oldest entry at capacity.
func (fs *fallbackStore) putMessage(ctx context.Context, msg *models.Message) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.messages[msg.GetID()]; exists {
		return
	}

	if len(fs.messages) >= fs.capacity {
		fs.evictOldestLocked(ctx)
	}

	fs.messages[msg.GetID()] = msg
	if msg.WaMessageID != "" {
		fs.byWaID[waKey(msg.ConnectionID, msg.WaMessageID)] = msg.GetID()
	}
	fs.byConversation[msg.ConversationID] = append(fs.byConversation[msg.ConversationID], msg.GetID())
}

func (fs *fallbackStore) evictOldestLocked(ctx context.Context) {
	var oldest *models.Message
	for _, m := range fs.messages {
		if oldest == nil || m.SentAt.Before(oldest.SentAt) {
			oldest = m
		}
	}
	if oldest == nil {
		return
	}
	fs.removeMessageLocked(oldest)
	util.Log(ctx).WithField("message_id", oldest.GetID()).
		Warn("fallback cache full, evicted oldest message")
}

func (fs *fallbackStore) removeMessageLocked(msg *models.Message) {
	delete(fs.messages, msg.GetID())
	if msg.WaMessageID != "" {
		delete(fs.byWaID, waKey(msg.ConnectionID, msg.WaMessageID))
	}
	ids := fs.byConversation[msg.ConversationID]
	for i, id := range ids {
		if id == msg.GetID() {
			fs.byConversation[msg.ConversationID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(fs.byConversation[msg.ConversationID]) == 0 {
		delete(fs.byConversation, msg.ConversationID)
	}
}

// hasMessage reports whether the id or the upstream id is already buffered.
func (fs *fallbackStore) hasMessage(id, connectionID, waMessageID string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if _, ok := fs.messages[id]; ok {
		return true
	}
	if waMessageID == "" {
		return false
	}
	_, ok := fs.byWaID[waKey(connectionID, waMessageID)]
	return ok
}

func (fs *fallbackStore) getMessageByWaID(connectionID, waMessageID string) (*models.Message, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	id, ok := fs.byWaID[waKey(connectionID, waMessageID)]
	if !ok {
		return nil, false
	}
	msg, ok := fs.messages[id]
	return msg, ok
}

// messagesForConversation returns buffered messages for one conversation,
// newest first.
func (fs *fallbackStore) messagesForConversation(conversationID string) []*models.Message {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	ids := fs.byConversation[conversationID]
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := fs.messages[id]; ok {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].GetID() > out[j].GetID()
	})
	return out
}

// putConversation buffers a conversation created while the store was down.
func (fs *fallbackStore) putConversation(conv *models.Conversation) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.conversations[conv.GetID()] = conv
	fs.convByChat[chatKey(conv.OwnerID, conv.ConnectionID, conv.ChatID)] = conv.GetID()
}

func (fs *fallbackStore) getConversation(id string) (*models.Conversation, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	conv, ok := fs.conversations[id]
	return conv, ok
}

func (fs *fallbackStore) getConversationByChat(ownerID, connectionID, chatID string) (*models.Conversation, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	id, ok := fs.convByChat[chatKey(ownerID, connectionID, chatID)]
	if !ok {
		return nil, false
	}
	conv, ok := fs.conversations[id]
	return conv, ok
}

// conversationsForConnection returns buffered conversations for a connection.
func (fs *fallbackStore) conversationsForConnection(ownerID, connectionID string) []*models.Conversation {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []*models.Conversation
	for _, conv := range fs.conversations {
		if conv.OwnerID == ownerID && conv.ConnectionID == connectionID {
			out = append(out, conv)
		}
	}
	return out
}

// touchConversation mirrors repository.UpdateActivity for buffered rows.
func (fs *fallbackStore) touchConversation(id, preview string, at time.Time, incrementUnread bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	conv, ok := fs.conversations[id]
	if !ok {
		return
	}
	conv.LastMessagePreview = preview
	conv.LastMessageAt = at
	if incrementUnread {
		conv.UnreadCount++
	}
}

// markRead clears the unread counter on a buffered conversation.
func (fs *fallbackStore) markRead(id string) {
	fs.mu.Lock()
	if conv, ok := fs.conversations[id]; ok {
		conv.UnreadCount = 0
	}
	fs.mu.Unlock()
}

// snapshotMessages returns every buffered message for draining.
func (fs *fallbackStore) snapshotMessages() []*models.Message {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]*models.Message, 0, len(fs.messages))
	for _, msg := range fs.messages {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out
}

// snapshotConversations returns every buffered conversation for draining.
func (fs *fallbackStore) snapshotConversations() []*models.Conversation {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]*models.Conversation, 0, len(fs.conversations))
	for _, conv := range fs.conversations {
		out = append(out, conv)
	}
	return out
}

func (fs *fallbackStore) removeMessage(msg *models.Message) {
	fs.mu.Lock()
	fs.removeMessageLocked(msg)
	fs.mu.Unlock()
}

func (fs *fallbackStore) removeConversation(conv *models.Conversation) {
	fs.mu.Lock()
	delete(fs.conversations, conv.GetID())
	delete(fs.convByChat, chatKey(conv.OwnerID, conv.ConnectionID, conv.ChatID))
	fs.mu.Unlock()
}

func (fs *fallbackStore) messageCount() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.messages)
}
