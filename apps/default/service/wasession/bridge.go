package wasession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pitabwire/util"
)

// Bridge frame types exchanged with the upstream socket bridge.
const (
	frameQR      = "qr"
	frameOpen    = "open"
	frameClose   = "close"
	frameMessage = "message"
	frameReceipt = "receipt"
	frameTyping  = "typing"
	frameSend    = "send"
	frameSendAck = "sendAck"
	frameHistory = "history"
	frameLogout  = "logout"
)

// bridgeFrame is the wire format of the bridge protocol. One frame carries
// exactly one event or command; unused fields stay empty.
type bridgeFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`

	QR         string `json:"qr,omitempty"`
	WhatsAppID string `json:"whatsAppId,omitempty"`
	PushName   string `json:"pushName,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`

	ChatID    string          `json:"chatId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Status    string          `json:"status,omitempty"`
	IsTyping  bool            `json:"isTyping,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Messages  json.RawMessage `json:"messages,omitempty"`
}

// bridgeInbound mirrors InboundMessage on the wire.
type bridgeInbound struct {
	ID         string         `json:"id"`
	ChatID     string         `json:"chatId"`
	SenderName string         `json:"senderName,omitempty"`
	FromMe     bool           `json:"fromMe,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Text       string         `json:"text,omitempty"`
	Caption    string         `json:"caption,omitempty"`
	MediaURL   string         `json:"mediaUrl,omitempty"`
	MediaMime  string         `json:"mediaMime,omitempty"`
	Timestamp  int64          `json:"timestamp,omitempty"`
	Raw        map[string]any `json:"raw,omitempty"`
}

func (bi *bridgeInbound) toInbound() InboundMessage {
	in := InboundMessage{
		ID:         bi.ID,
		ChatID:     bi.ChatID,
		SenderName: bi.SenderName,
		FromMe:     bi.FromMe,
		Kind:       bi.Kind,
		Text:       bi.Text,
		Caption:    bi.Caption,
		MediaURL:   bi.MediaURL,
		MediaMime:  bi.MediaMime,
		Raw:        bi.Raw,
	}
	if bi.Timestamp > 0 {
		in.Timestamp = time.UnixMilli(bi.Timestamp)
	}
	return in
}

// BridgeDialer dials sessions on the whatsapp socket bridge. The bridge
// keeps account credentials keyed by connection id, so a redial resumes the
// same pairing.
type BridgeDialer struct {
	baseURI string
	dialer  *websocket.Dialer
}

func NewBridgeDialer(baseURI string) *BridgeDialer {
	return &BridgeDialer{
		baseURI: baseURI,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

func (bd *BridgeDialer) Dial(ctx context.Context, connectionID string) (Session, error) {
	target, err := url.JoinPath(bd.baseURI, "sessions", connectionID)
	if err != nil {
		return nil, err
	}

	socket, _, err := bd.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge dial %s: %w", connectionID, err)
	}

	s := &bridgeSession{
		connectionID: connectionID,
		socket:       socket,
		events:       make(chan Event, 64),
		pending:      make(map[string]chan bridgeFrame),
	}
	return s, nil
}

// bridgeSession is one live socket to the bridge.
type bridgeSession struct {
	connectionID string
	socket       *websocket.Conn
	events       chan Event

	mu      sync.Mutex
	pending map[string]chan bridgeFrame
	reqSeq  int
	closed  bool
	started bool
}

func (bs *bridgeSession) Connect(_ context.Context) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.started {
		return nil
	}
	bs.started = true
	go bs.readLoop()
	return nil
}

// readLoop pumps bridge frames into the event stream until the socket
// drops. Request replies are routed to their waiters instead.
func (bs *bridgeSession) readLoop() {
	defer bs.finish()

	for {
		var frame bridgeFrame
		if err := bs.socket.ReadJSON(&frame); err != nil {
			bs.emit(Event{Kind: EventClose, CloseReason: CloseConnectionLost, Err: err})
			return
		}

		if frame.RequestID != "" {
			bs.resolve(frame)
			continue
		}

		switch frame.Type {
		case frameQR:
			bs.emit(Event{Kind: EventQR, QR: frame.QR})
		case frameOpen:
			bs.emit(Event{
				Kind:     EventOpen,
				Identity: &Identity{WhatsAppID: frame.WhatsAppID, PushName: frame.PushName},
			})
		case frameMessage:
			var in bridgeInbound
			if err := json.Unmarshal(frame.Message, &in); err != nil {
				util.Log(context.Background()).WithError(err).
					WithField("connection_id", bs.connectionID).
					Warn("dropping malformed bridge message frame")
				continue
			}
			msg := in.toInbound()
			bs.emit(Event{Kind: EventMessage, Message: &msg})
		case frameReceipt:
			bs.emit(Event{
				Kind:    EventReceipt,
				Receipt: &Receipt{MessageID: frame.MessageID, ChatID: frame.ChatID, Status: frame.Status},
			})
		case frameTyping:
			bs.emit(Event{
				Kind:   EventTyping,
				Typing: &Typing{ChatID: frame.ChatID, IsTyping: frame.IsTyping},
			})
		case frameClose:
			reason := CloseConnectionLost
			if frame.Reason == CloseLoggedOut.String() {
				reason = CloseLoggedOut
			}
			var closeErr error
			if frame.Error != "" {
				closeErr = errors.New(frame.Error)
			}
			bs.emit(Event{Kind: EventClose, CloseReason: reason, Err: closeErr})
			return
		}
	}
}

func (bs *bridgeSession) Send(ctx context.Context, chatID string, msg OutboundMessage) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	reply, err := bs.request(ctx, bridgeFrame{
		Type:    frameSend,
		ChatID:  chatID,
		Message: payload,
	})
	if err != nil {
		return "", err
	}
	if reply.Error != "" {
		return "", errors.New(reply.Error)
	}
	return reply.MessageID, nil
}

func (bs *bridgeSession) RecentMessages(ctx context.Context, limit int) ([]InboundMessage, error) {
	reply, err := bs.request(ctx, bridgeFrame{Type: frameHistory, Limit: limit})
	if err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}

	var raw []bridgeInbound
	if len(reply.Messages) > 0 {
		if err = json.Unmarshal(reply.Messages, &raw); err != nil {
			return nil, err
		}
	}
	out := make([]InboundMessage, 0, len(raw))
	for i := range raw {
		out = append(out, raw[i].toInbound())
	}
	return out, nil
}

func (bs *bridgeSession) Logout(_ context.Context) error {
	return bs.write(bridgeFrame{Type: frameLogout})
}

func (bs *bridgeSession) Events() <-chan Event {
	return bs.events
}

func (bs *bridgeSession) Close() error {
	bs.mu.Lock()
	alreadyClosed := bs.closed
	bs.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	return bs.socket.Close()
}

// request writes a frame and blocks for its correlated reply.
func (bs *bridgeSession) request(ctx context.Context, frame bridgeFrame) (bridgeFrame, error) {
	bs.mu.Lock()
	if bs.closed {
		bs.mu.Unlock()
		return bridgeFrame{}, errors.New("bridge session is closed")
	}
	bs.reqSeq++
	frame.RequestID = fmt.Sprintf("%s-%d", bs.connectionID, bs.reqSeq)
	waiter := make(chan bridgeFrame, 1)
	bs.pending[frame.RequestID] = waiter
	bs.mu.Unlock()

	defer func() {
		bs.mu.Lock()
		delete(bs.pending, frame.RequestID)
		bs.mu.Unlock()
	}()

	if err := bs.write(frame); err != nil {
		return bridgeFrame{}, err
	}

	select {
	case <-ctx.Done():
		return bridgeFrame{}, ctx.Err()
	case reply, ok := <-waiter:
		if !ok {
			return bridgeFrame{}, errors.New("bridge session closed mid-request")
		}
		return reply, nil
	}
}

// emit is only called from the read loop, which closes the channel after
// the final close event.
func (bs *bridgeSession) emit(ev Event) {
	bs.events <- ev
}

func (bs *bridgeSession) resolve(frame bridgeFrame) {
	bs.mu.Lock()
	waiter, ok := bs.pending[frame.RequestID]
	bs.mu.Unlock()
	if ok {
		waiter <- frame
	}
}

func (bs *bridgeSession) write(frame bridgeFrame) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.closed {
		return errors.New("bridge session is closed")
	}
	return bs.socket.WriteJSON(frame)
}

// finish tears internal state down after the read loop ends.
func (bs *bridgeSession) finish() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.closed {
		return
	}
	bs.closed = true
	_ = bs.socket.Close()
	for id, waiter := range bs.pending {
		close(waiter)
		delete(bs.pending, id)
	}
	close(bs.events)
}
