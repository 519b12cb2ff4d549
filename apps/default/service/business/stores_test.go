package business

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/quipp/service-whatsapp/apps/default/config"
	"github.com/quipp/service-whatsapp/apps/default/service/fanout"
	"github.com/quipp/service-whatsapp/apps/default/service/models"
)

var errStoreDown = errors.New("store unavailable")

func testConfig() *config.WhatsAppConfig {
	return &config.WhatsAppConfig{
		MaxConnections:               100,
		ReconnectDelaySeconds:        1,
		ConnectTimeoutSeconds:        5,
		SendTimeoutSeconds:           5,
		HistoryBackfillLimit:         10,
		DefaultPageSize:              40,
		MaxPageSize:                  200,
		StoreBreakerMaxFailures:      3,
		StoreBreakerResetSeconds:     1,
		FallbackCacheCapacity:        100,
		FallbackDrainIntervalSeconds: 1,
	}
}

// fakeConnectionStore is an in-memory connectionStore.
type fakeConnectionStore struct {
	mu    sync.Mutex
	rows  map[string]*models.Connection
	fail  bool
	saves int
}

func newFakeConnectionStore() *fakeConnectionStore {
	return &fakeConnectionStore{rows: make(map[string]*models.Connection)}
}

func (f *fakeConnectionStore) GetByID(_ context.Context, id string) (*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	row, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeConnectionStore) Save(_ context.Context, connection *models.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	cp := *connection
	f.rows[connection.GetID()] = &cp
	f.saves++
	return nil
}

func (f *fakeConnectionStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeConnectionStore) GetByOwnerID(_ context.Context, ownerID string) ([]*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	var out []*models.Connection
	for _, row := range f.rows {
		if row.OwnerID == ownerID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeConnectionStore) List(_ context.Context) ([]*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	var out []*models.Connection
	for _, row := range f.rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeConnectionStore) UpdateStatus(_ context.Context, id string, status models.ConnectionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	if row, ok := f.rows[id]; ok {
		row.Status = string(status)
	}
	return nil
}

func (f *fakeConnectionStore) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		return row.Status
	}
	return ""
}

// fakeConversationStore is an in-memory conversationStore.
type fakeConversationStore struct {
	mu   sync.Mutex
	rows map[string]*models.Conversation
	fail bool
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{rows: make(map[string]*models.Conversation)}
}

func (f *fakeConversationStore) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	row, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeConversationStore) Save(_ context.Context, conversation *models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	cp := *conversation
	f.rows[conversation.GetID()] = &cp
	return nil
}

func (f *fakeConversationStore) GetByChat(
	_ context.Context,
	ownerID, connectionID, chatID string,
) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	for _, row := range f.rows {
		if row.OwnerID == ownerID && row.ConnectionID == connectionID && row.ChatID == chatID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeConversationStore) GetByConnectionID(
	_ context.Context,
	ownerID, connectionID string,
	_ int,
) ([]*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	var out []*models.Conversation
	for _, row := range f.rows {
		if row.OwnerID == ownerID && row.ConnectionID == connectionID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeConversationStore) UpdateActivity(
	_ context.Context,
	id, preview string,
	at time.Time,
	incrementUnread bool,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	row, ok := f.rows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	row.LastMessagePreview = preview
	row.LastMessageAt = at
	if incrementUnread {
		row.UnreadCount++
	}
	return nil
}

func (f *fakeConversationStore) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	row, ok := f.rows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	row.UnreadCount = 0
	return nil
}

func (f *fakeConversationStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeMessageStore is an in-memory messageStore.
type fakeMessageStore struct {
	mu   sync.Mutex
	rows map[string]*models.Message
	fail bool
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{rows: make(map[string]*models.Message)}
}

func (f *fakeMessageStore) GetByID(_ context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	row, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeMessageStore) Save(_ context.Context, message *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	cp := *message
	f.rows[message.GetID()] = &cp
	return nil
}

func (f *fakeMessageStore) GetByConnectionAndWaID(
	_ context.Context,
	connectionID, waMessageID string,
) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	for _, row := range f.rows {
		if row.ConnectionID == connectionID && row.WaMessageID == waMessageID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeMessageStore) GetHistory(
	_ context.Context,
	conversationID string,
	beforeSentAt time.Time,
	limit int,
) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	var out []*models.Message
	for _, row := range f.rows {
		if row.ConversationID != conversationID {
			continue
		}
		if !beforeSentAt.IsZero() && !row.SentAt.Before(beforeSentAt) {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	// Newest first, matching the repository ordering.
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j].SentAt.After(out[i].SentAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessageStore) UpdateDeliveryStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	row, ok := f.rows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	row.DeliveryStatus = status
	return nil
}

func (f *fakeMessageStore) ExistsByIDs(_ context.Context, messageIDs []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errStoreDown
	}
	exists := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		_, ok := f.rows[id]
		exists[id] = ok
	}
	return exists, nil
}

func (f *fakeMessageStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeBroadcaster records every envelope pushed to the fan-out pipeline.
type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []*fanout.Envelope
	fail bool
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, env *fanout.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("pipeline down")
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeBroadcaster) envelopes() []*fanout.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fanout.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeBroadcaster) byType(eventType string) []*fanout.Envelope {
	var out []*fanout.Envelope
	for _, env := range f.envelopes() {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}
