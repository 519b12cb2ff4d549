package business

import (
	"context"
	"time"

	"github.com/pitabwire/util"

	"github.com/quipp/service-whatsapp/apps/default/service/fanout"
	"github.com/quipp/service-whatsapp/apps/default/service/models"
	"github.com/quipp/service-whatsapp/apps/default/service/wasession"
	"github.com/quipp/service-whatsapp/internal/telemetry"
)

// startSupervisor launches the lifecycle loop for one connection. The loop
// owns all status transitions for its generation; a reconnect scheduled by
// an older generation never fires once a newer one has started.
func (cr *connectionRegistry) startSupervisor(ctx context.Context, lc *liveConnection) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	lc.mu.Lock()
	if lc.cancel != nil {
		lc.cancel()
	}
	lc.cancel = cancel
	lc.mu.Unlock()

	gen := lc.generation.Add(1)
	go cr.runSupervisor(runCtx, lc, gen)
}

func (cr *connectionRegistry) runSupervisor(ctx context.Context, lc *liveConnection, gen int64) {
	log := util.Log(ctx).WithFields(map[string]any{
		"connection_id": lc.id,
		"generation":    gen,
	})

	lc.setStatus(models.StatusConnecting)
	cr.persistStatus(ctx, lc.id, models.StatusConnecting)
	cr.broadcast(ctx, lc.id, fanout.EventConnectionUpdate, lc.snapshot())

	session, err := cr.dialSession(ctx, lc)
	if err != nil {
		log.WithError(err).Warn("session dial failed")
		cr.markDisconnected(ctx, lc, gen)
		return
	}

	lc.setSession(session)

	if err = session.Connect(ctx); err != nil {
		log.WithError(err).Warn("session connect failed")
		_ = session.Close()
		cr.markDisconnected(ctx, lc, gen)
		return
	}

	for ev := range session.Events() {
		switch ev.Kind {
		case wasession.EventQR:
			lc.setQR(ev.QR)
			cr.persistStatus(ctx, lc.id, models.StatusAwaitingQR)
			cr.broadcast(ctx, lc.id, fanout.EventQRCode, map[string]string{"qr": ev.QR})

		case wasession.EventOpen:
			lc.markOpen(ev.Identity, time.Now())
			if saveErr := cr.connections.Save(ctx, lc.toModel()); saveErr != nil {
				log.WithError(saveErr).Warn("persisting opened connection failed")
			}
			cr.broadcast(ctx, lc.id, fanout.EventConnectionUpdate, lc.snapshot())
			telemetry.ConnectionsOpenedCounter.Add(ctx, 1)
			log.Info("session open")

			go cr.backfillHistory(ctx, lc, session)

		case wasession.EventMessage:
			if ev.Message == nil {
				continue
			}
			cr.writer.PersistInbound(ctx, lc.ownerID, lc.id, *ev.Message)

		case wasession.EventReceipt:
			if ev.Receipt == nil {
				continue
			}
			if rcErr := cr.writer.ApplyReceipt(ctx, lc.ownerID, lc.id, *ev.Receipt); rcErr != nil {
				log.WithError(rcErr).WithField("wa_message_id", ev.Receipt.MessageID).
					Debug("receipt could not be applied")
			}

		case wasession.EventTyping:
			if ev.Typing == nil {
				continue
			}
			cr.broadcast(ctx, lc.id, fanout.EventTyping, map[string]any{
				"chatId":   models.CanonicalChatID(ev.Typing.ChatID),
				"isTyping": ev.Typing.IsTyping,
			})

		case wasession.EventClose:
			cr.handleClose(ctx, lc, gen, ev)
			return
		}
	}

	// Stream ended without a close event, treat as a lost connection.
	cr.handleClose(ctx, lc, gen, wasession.Event{
		Kind:        wasession.EventClose,
		CloseReason: wasession.CloseConnectionLost,
	})
}

//nolint:nonamedreturns // named return required for deferred tracing
func (cr *connectionRegistry) dialSession(
	ctx context.Context,
	lc *liveConnection,
) (session wasession.Session, err error) {
	ctx, span := telemetry.ConnectionTracer.Start(ctx, "SessionDial")
	defer func() { telemetry.ConnectionTracer.End(ctx, span, err) }()

	dialCtx, cancel := context.WithTimeout(ctx, cr.cfg.ConnectTimeout())
	defer cancel()

	return cr.dialer.Dial(dialCtx, lc.id)
}

func (cr *connectionRegistry) handleClose(
	ctx context.Context,
	lc *liveConnection,
	gen int64,
	ev wasession.Event,
) {
	log := util.Log(ctx).WithFields(map[string]any{
		"connection_id": lc.id,
		"close_reason":  ev.CloseReason.String(),
	})
	if ev.Err != nil {
		log = log.WithError(ev.Err)
	}

	if lc.deleting.Load() {
		log.Debug("session closed during teardown")
		return
	}

	if ev.CloseReason == wasession.CloseLoggedOut {
		lc.setStatus(models.StatusLoggedOut)
		cr.persistStatus(ctx, lc.id, models.StatusLoggedOut)
		cr.broadcast(ctx, lc.id, fanout.EventConnectionUpdate, lc.snapshot())
		telemetry.ConnectionsLoggedOutCounter.Add(ctx, 1)
		log.Info("session logged out")
		return
	}

	log.Info("session closed, scheduling reconnect")
	cr.markDisconnected(ctx, lc, gen)
}

// markDisconnected records the drop and arms the reconnect timer for this
// generation.
func (cr *connectionRegistry) markDisconnected(ctx context.Context, lc *liveConnection, gen int64) {
	if lc.deleting.Load() {
		return
	}

	lc.setSession(nil)
	lc.setStatus(models.StatusDisconnected)
	cr.persistStatus(ctx, lc.id, models.StatusDisconnected)
	cr.broadcast(ctx, lc.id, fanout.EventConnectionUpdate, lc.snapshot())

	telemetry.ReconnectsScheduledCounter.Add(ctx, 1)
	bg := context.WithoutCancel(ctx)
	time.AfterFunc(cr.cfg.ReconnectDelay(), func() {
		if lc.deleting.Load() || lc.generation.Load() != gen {
			return
		}
		cr.startSupervisor(bg, lc)
	})
}

// backfillHistory pulls recent upstream history once a session opens.
// Failures are logged and dropped, the live stream is the source of truth.
func (cr *connectionRegistry) backfillHistory(
	ctx context.Context,
	lc *liveConnection,
	session wasession.Session,
) {
	if cr.cfg.HistoryBackfillLimit <= 0 {
		return
	}

	history, err := session.RecentMessages(ctx, cr.cfg.HistoryBackfillLimit)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("connection_id", lc.id).
			Debug("history backfill unavailable")
		return
	}

	for _, in := range history {
		cr.writer.PersistInbound(ctx, lc.ownerID, lc.id, in)
	}
}

func (cr *connectionRegistry) persistStatus(ctx context.Context, id string, status models.ConnectionStatus) {
	if err := cr.connections.UpdateStatus(ctx, id, status); err != nil {
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"connection_id": id,
			"status":        string(status),
		}).Warn("persisting connection status failed")
	}
}
