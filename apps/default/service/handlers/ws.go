package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pitabwire/util"

	"github.com/quipp/service-whatsapp/apps/default/config"
	"github.com/quipp/service-whatsapp/apps/default/service/business"
	"github.com/quipp/service-whatsapp/apps/default/service/fanout"
	"github.com/quipp/service-whatsapp/internal"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
)

// WSServer upgrades realtime subscriptions onto the fan-out hub. One socket
// subscribes to exactly one connection's event room.
type WSServer struct {
	cfg      *config.WhatsAppConfig
	registry business.ConnectionRegistry
	hub      *fanout.Hub
	upgrader websocket.Upgrader
}

func NewWSServer(cfg *config.WhatsAppConfig, registry business.ConnectionRegistry, hub *fanout.Hub) *WSServer {
	return &WSServer{
		cfg:      cfg,
		registry: registry,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Register attaches the websocket route onto the mux.
func (s *WSServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/connections/{connectionID}/ws", s.subscribe)
}

// wsSubscriber is a hub subscriber backed by one websocket client. Send
// never blocks; a client that cannot keep up overflows its buffer and is
// dropped from the room by the hub.
type wsSubscriber struct {
	id   string
	send chan *fanout.Envelope
}

func (ws *wsSubscriber) ID() string { return ws.id }

func (ws *wsSubscriber) Send(env *fanout.Envelope) error {
	select {
	case ws.send <- env:
		return nil
	default:
		return errors.New("subscriber buffer full")
	}
}

func (s *WSServer) subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, err := internal.OwnerIDFromContext(ctx, s.cfg.DefaultOwnerID)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	connectionID := r.PathValue("connectionID")
	if _, err = s.registry.GetConnection(ctx, ownerID, connectionID); err != nil {
		http.Error(w, "connection not found", http.StatusNotFound)
		return
	}

	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := &wsSubscriber{
		id:   util.IDString(),
		send: make(chan *fanout.Envelope, wsSendBuffer),
	}
	s.hub.Join(connectionID, sub)

	log := util.Log(ctx).WithFields(map[string]any{
		"connection_id": connectionID,
		"subscriber_id": sub.id,
	})
	log.Debug("websocket subscriber joined")

	defer func() {
		s.hub.Leave(connectionID, sub.id)
		_ = socket.Close()
		log.Debug("websocket subscriber left")
	}()

	// Reader goroutine only notices the client going away; inbound frames
	// are not part of the protocol.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, readErr := socket.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	keepAlive := time.NewTicker(time.Duration(s.cfg.KeepAliveIntervalSeconds) * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case env, ok := <-sub.send:
			if !ok {
				return
			}
			_ = socket.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if writeErr := socket.WriteJSON(env); writeErr != nil {
				log.WithError(writeErr).Debug("websocket write failed")
				return
			}
		case <-keepAlive.C:
			_ = socket.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if pingErr := socket.WriteMessage(websocket.PingMessage, nil); pingErr != nil {
				return
			}
		}
	}
}
