// Package mock provides scriptable in-memory wasession implementations for tests.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quipp/service-whatsapp/apps/default/service/wasession"
)

// SentMessage records a Send call made against a mock session.
type SentMessage struct {
	ChatID  string
	Message wasession.OutboundMessage
}

// MockSession is an in-memory implementation of wasession.Session for tests.
// Events are pushed by the test through the Emit helpers.
type MockSession struct {
	mu     sync.Mutex
	events chan wasession.Event
	closed bool
	sent   []SentMessage

	// ConnectFunc allows overriding the default Connect behavior.
	ConnectFunc func(ctx context.Context) error
	// SendFunc allows overriding the default Send behavior.
	SendFunc func(ctx context.Context, chatID string, msg wasession.OutboundMessage) (string, error)
	// LogoutFunc allows overriding the default Logout behavior.
	LogoutFunc func(ctx context.Context) error
	// HistoryFunc allows overriding the default RecentMessages behavior.
	HistoryFunc func(ctx context.Context, limit int) ([]wasession.InboundMessage, error)
}

// NewMockSession creates a new mock session with a buffered event stream.
func NewMockSession() *MockSession {
	return &MockSession{
		events: make(chan wasession.Event, 32),
	}
}

func (m *MockSession) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	return nil
}

func (m *MockSession) Send(ctx context.Context, chatID string, msg wasession.OutboundMessage) (string, error) {
	m.mu.Lock()
	m.sent = append(m.sent, SentMessage{ChatID: chatID, Message: msg})
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, chatID, msg)
	}
	return "WAMID-" + chatID, nil
}

func (m *MockSession) RecentMessages(ctx context.Context, limit int) ([]wasession.InboundMessage, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MockSession) Logout(ctx context.Context) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx)
	}
	return nil
}

func (m *MockSession) Events() <-chan wasession.Event {
	return m.events
}

// Close closes the event stream. Safe to call more than once.
func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}

// Sent returns a copy of all messages sent through this session.
func (m *MockSession) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// EmitQR pushes a pairing QR event.
func (m *MockSession) EmitQR(code string) {
	m.emit(wasession.Event{Kind: wasession.EventQR, QR: code})
}

// EmitOpen pushes an open event carrying the account identity.
func (m *MockSession) EmitOpen(whatsAppID, pushName string) {
	m.emit(wasession.Event{
		Kind:     wasession.EventOpen,
		Identity: &wasession.Identity{WhatsAppID: whatsAppID, PushName: pushName},
	})
}

// EmitMessage pushes an inbound message event.
func (m *MockSession) EmitMessage(msg wasession.InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.emit(wasession.Event{Kind: wasession.EventMessage, Message: &msg})
}

// EmitReceipt pushes a delivery receipt event.
func (m *MockSession) EmitReceipt(messageID, chatID, status string) {
	m.emit(wasession.Event{
		Kind:    wasession.EventReceipt,
		Receipt: &wasession.Receipt{MessageID: messageID, ChatID: chatID, Status: status},
	})
}

// EmitTyping pushes a typing indicator event.
func (m *MockSession) EmitTyping(chatID string, isTyping bool) {
	m.emit(wasession.Event{
		Kind:   wasession.EventTyping,
		Typing: &wasession.Typing{ChatID: chatID, IsTyping: isTyping},
	})
}

// EmitClose pushes a close event and closes the stream.
func (m *MockSession) EmitClose(reason wasession.CloseReason, err error) {
	m.emit(wasession.Event{Kind: wasession.EventClose, CloseReason: reason, Err: err})
	_ = m.Close()
}

func (m *MockSession) emit(evt wasession.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.events <- evt
}

// MockDialer is an in-memory implementation of wasession.Dialer. Each Dial
// hands out the next scripted session, or a fresh MockSession when the script
// is exhausted.
type MockDialer struct {
	mu       sync.Mutex
	scripted []*MockSession
	dials    []string

	// DialFunc allows overriding the default Dial behavior.
	DialFunc func(ctx context.Context, connectionID string) (wasession.Session, error)
}

// NewMockDialer creates a dialer that serves the given sessions in order.
func NewMockDialer(sessions ...*MockSession) *MockDialer {
	return &MockDialer{scripted: sessions}
}

func (d *MockDialer) Dial(ctx context.Context, connectionID string) (wasession.Session, error) {
	if d.DialFunc != nil {
		return d.DialFunc(ctx, connectionID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, connectionID)

	if len(d.scripted) == 0 {
		return NewMockSession(), nil
	}
	next := d.scripted[0]
	d.scripted = d.scripted[1:]
	if next == nil {
		return nil, errors.New("mock dialer: scripted dial failure")
	}
	return next, nil
}

// DialCount returns how many times Dial was invoked.
func (d *MockDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

// Dialed returns the connection ids passed to Dial, in order.
func (d *MockDialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.dials))
	copy(out, d.dials)
	return out
}
