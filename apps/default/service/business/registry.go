package business

import (
	"context"
	"errors"
	"time"

	"github.com/pitabwire/util"

	"github.com/quipp/service-whatsapp/apps/default/config"
	"github.com/quipp/service-whatsapp/apps/default/service"
	"github.com/quipp/service-whatsapp/apps/default/service/fanout"
	"github.com/quipp/service-whatsapp/apps/default/service/models"
	"github.com/quipp/service-whatsapp/apps/default/service/wasession"
	"github.com/quipp/service-whatsapp/internal/telemetry"
)

// roomCloser drops realtime subscribers when their connection goes away.
type roomCloser interface {
	CloseRoom(connectionID string)
}

type connectionRegistry struct {
	cfg         *config.WhatsAppConfig
	pool        *connectionPool
	dialer      wasession.Dialer
	writer      DurabilityWriter
	broadcaster Broadcaster
	connections connectionStore
	rooms       roomCloser

	idGen func() string
	now   func() time.Time
}

// NewConnectionRegistry creates the registry that owns every live whatsapp
// session in this instance. rooms may be nil when no realtime layer is
// attached.
func NewConnectionRegistry(
	cfg *config.WhatsAppConfig,
	connections connectionStore,
	dialer wasession.Dialer,
	writer DurabilityWriter,
	broadcaster Broadcaster,
	rooms roomCloser,
) ConnectionRegistry {
	return &connectionRegistry{
		cfg:         cfg,
		pool:        newConnectionPool(int32(cfg.MaxConnections)),
		dialer:      dialer,
		writer:      writer,
		broadcaster: broadcaster,
		connections: connections,
		rooms:       rooms,
		idGen:       util.IDString,
		now:         time.Now,
	}
}

func (cr *connectionRegistry) CreateConnection(
	ctx context.Context,
	ownerID string,
	req CreateConnectionRequest,
) (*models.ConnectionAPI, error) {
	if req.Name == "" {
		return nil, service.ErrConnectionNameRequired
	}

	id := req.ID
	if id == "" {
		id = cr.idGen()
	}

	lc := newLiveConnection(id, ownerID, req.Name, cr.now())
	if req.PhoneHint != "" {
		lc.phoneNumber = models.PhoneFromWhatsAppID(req.PhoneHint)
	}

	if err := cr.pool.add(lc); err != nil {
		if errors.Is(err, errPoolDuplicate) {
			return nil, service.ErrConnectionExists
		}
		return nil, service.ErrConnectionRegistryFull
	}

	// The row exists before the session does so a crash mid-pairing still
	// leaves a restorable connection. Persistence failure is not fatal here.
	if err := cr.connections.Save(ctx, lc.toModel()); err != nil {
		util.Log(ctx).WithError(err).
			WithField("connection_id", lc.id).
			Warn("could not persist new connection, continuing with live entry")
	}

	cr.startSupervisor(ctx, lc)

	telemetry.ConnectionsCreatedCounter.Add(ctx, 1)
	util.Log(ctx).WithFields(map[string]any{
		"connection_id": lc.id,
		"owner_id":      ownerID,
	}).Info("connection created")

	return lc.snapshot(), nil
}

func (cr *connectionRegistry) GetConnection(
	ctx context.Context,
	ownerID, id string,
) (*models.ConnectionAPI, error) {
	if id == "" {
		return nil, service.ErrUnspecifiedID
	}

	if lc, ok := cr.pool.get(id); ok {
		if lc.ownerID != ownerID {
			return nil, service.ErrConnectionNotFound
		}
		return lc.snapshot(), nil
	}

	conn, err := cr.connections.GetByID(ctx, id)
	if err != nil || conn.OwnerID != ownerID {
		return nil, service.ErrConnectionNotFound
	}
	return conn.ToAPI(), nil
}

func (cr *connectionRegistry) ListConnections(
	ctx context.Context,
	ownerID string,
) ([]*models.ConnectionAPI, error) {
	seen := make(map[string]bool)
	out := make([]*models.ConnectionAPI, 0)

	cr.pool.forEach(func(lc *liveConnection) {
		if lc.ownerID != ownerID || lc.deleting.Load() {
			return
		}
		seen[lc.id] = true
		out = append(out, lc.snapshot())
	})

	stored, err := cr.connections.GetByOwnerID(ctx, ownerID)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("listing stored connections failed, serving live entries only")
		return out, nil
	}
	for _, conn := range stored {
		if !seen[conn.GetID()] {
			out = append(out, conn.ToAPI())
		}
	}
	return out, nil
}

func (cr *connectionRegistry) DeleteConnection(ctx context.Context, ownerID, id string) error {
	if id == "" {
		return service.ErrUnspecifiedID
	}

	lc, ok := cr.pool.get(id)
	if ok {
		if lc.ownerID != ownerID {
			return service.ErrConnectionNotFound
		}
		cr.teardownLive(ctx, lc, true)
	} else {
		conn, err := cr.connections.GetByID(ctx, id)
		if err != nil || conn.OwnerID != ownerID {
			return service.ErrConnectionNotFound
		}
	}

	if err := cr.connections.Delete(ctx, id); err != nil {
		util.Log(ctx).WithError(err).WithField("connection_id", id).Warn("deleting stored connection failed")
	}
	if cr.rooms != nil {
		cr.rooms.CloseRoom(id)
	}

	telemetry.ConnectionsDeletedCounter.Add(ctx, 1)
	util.Log(ctx).WithFields(map[string]any{
		"connection_id": id,
		"owner_id":      ownerID,
	}).Info("connection deleted")
	return nil
}

// teardownLive stops a live entry. In-flight sends finish first; the
// session is logged out best-effort when requested.
func (cr *connectionRegistry) teardownLive(ctx context.Context, lc *liveConnection, logout bool) {
	s := lc.teardown()
	if s != nil {
		if logout {
			logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cr.cfg.SendTimeout())
			if err := s.Logout(logoutCtx); err != nil {
				util.Log(ctx).WithError(err).WithField("connection_id", lc.id).Debug("logout on teardown failed")
			}
			cancel()
		}
		_ = s.Close()
	}
	cr.pool.remove(lc.id)
}

//nolint:nonamedreturns // named return required for deferred tracing
func (cr *connectionRegistry) SendMessage(
	ctx context.Context,
	ownerID, id string,
	req SendMessageRequest,
) (result *SendMessageResult, err error) {
	ctx, span := telemetry.MessageTracer.Start(ctx, "SendMessage")
	defer func() { telemetry.MessageTracer.End(ctx, span, err) }()

	if id == "" {
		return nil, service.ErrUnspecifiedID
	}
	if req.To == "" {
		return nil, service.ErrRecipientRequired
	}
	if req.Body == "" && req.MediaURL == "" {
		return nil, service.ErrMessageContentRequired
	}

	lc, ok := cr.pool.get(id)
	if !ok || lc.ownerID != ownerID {
		return nil, service.ErrConnectionNotFound
	}

	s, release, err := lc.acquireSend()
	if err != nil {
		if errors.Is(err, errConnGone) {
			return nil, service.ErrConnectionGone
		}
		return nil, service.ErrUpstreamUnavailable
	}
	defer release()

	chatID := models.CanonicalChatID(req.To)
	out := wasession.OutboundMessage{
		Kind:      req.Kind,
		Body:      req.Body,
		Caption:   req.Caption,
		MediaURL:  req.MediaURL,
		MediaMime: req.MediaMime,
		FileName:  req.FileName,
	}
	if out.Kind == "" {
		out.Kind = wasession.KindText
	}

	sendCtx, cancel := context.WithTimeout(ctx, cr.cfg.SendTimeout())
	defer cancel()

	waMessageID, err := s.Send(sendCtx, chatID, out)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, service.ErrSendTimeout
		}
		return nil, service.ErrUpstreamUnavailable
	}

	telemetry.MessagesSentCounter.Add(ctx, 1)

	msg := cr.writer.PersistOutbound(ctx, ownerID, id, chatID, waMessageID, out)

	return &SendMessageResult{
		MessageID:           msg.GetID(),
		Status:              msg.DeliveryStatus,
		ClientCorrelationID: req.ClientCorrelationID,
	}, nil
}

// RestoreFromStore loads persisted connections as disconnected entries so
// their history remains readable and a pairing can be retried after restart.
func (cr *connectionRegistry) RestoreFromStore(ctx context.Context) error {
	stored, err := cr.connections.List(ctx)
	if err != nil {
		return err
	}

	restored := 0
	for _, conn := range stored {
		status := models.ConnectionStatus(conn.Status)
		lc := newLiveConnection(conn.GetID(), conn.OwnerID, conn.Name, conn.CreatedAt)
		lc.phoneNumber = conn.PhoneNumber
		lc.whatsAppID = conn.WhatsAppID
		lc.pushName = conn.PushName
		lc.lastConnectedAt = conn.LastConnectedAt
		if status.Terminal() {
			lc.status = status
		} else {
			lc.status = models.StatusDisconnected
		}

		if addErr := cr.pool.add(lc); addErr != nil {
			util.Log(ctx).WithError(addErr).WithField("connection_id", conn.GetID()).
				Warn("could not restore connection into pool")
			continue
		}
		restored++

		if !status.Terminal() {
			cr.startSupervisor(ctx, lc)
		}
	}

	util.Log(ctx).WithField("count", restored).Info("restored connections from store")
	return nil
}

func (cr *connectionRegistry) Stats() (size, capacity int32) {
	return cr.pool.size(), int32(cr.cfg.MaxConnections)
}

func (cr *connectionRegistry) Shutdown(ctx context.Context) error {
	cr.pool.forEach(func(lc *liveConnection) {
		cr.teardownLive(ctx, lc, false)
	})
	return nil
}

// broadcast publishes a realtime event, logging rather than failing the
// calling operation when the pipeline is unavailable.
func (cr *connectionRegistry) broadcast(ctx context.Context, connectionID, eventType string, payload any) {
	if cr.broadcaster == nil {
		return
	}
	env, err := fanout.NewEnvelope(connectionID, eventType, payload)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("could not build realtime envelope")
		return
	}
	if err = cr.broadcaster.Broadcast(ctx, env); err != nil {
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"connection_id": connectionID,
			"event_type":    eventType,
		}).Warn("realtime broadcast failed")
	}
}
