package business

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quipp/service-whatsapp/apps/default/service/models"
	"github.com/quipp/service-whatsapp/apps/default/service/wasession"
)

var (
	errPoolFull      = errors.New("connection pool is at capacity")
	errPoolDuplicate = errors.New("connection id already present in pool")
)

// liveConnection is one registry entry: the session handle plus the mutable
// state the supervisor and the send path share.
//
// Locking protocol: sends take the read lock for the whole upstream call and
// teardown takes the write lock, so deletion waits for in-flight sends while
// new sends are turned away by the deleting flag first.
type liveConnection struct {
	id      string
	ownerID string

	mu      sync.RWMutex
	session wasession.Session
	name    string
	status  models.ConnectionStatus
	qrCode  string

	phoneNumber     string
	whatsAppID      string
	pushName        string
	lastConnectedAt time.Time
	createdAt       time.Time

	// deleting flips once, before the teardown write lock is taken.
	deleting atomic.Bool

	// generation increments on every supervisor start and on teardown.
	// A scheduled reconnect that observes a different generation is stale
	// and must not fire.
	generation atomic.Int64

	cancel context.CancelFunc
}

func newLiveConnection(id, ownerID, name string, createdAt time.Time) *liveConnection {
	return &liveConnection{
		id:        id,
		ownerID:   ownerID,
		name:      name,
		status:    models.StatusConnecting,
		createdAt: createdAt,
	}
}

// acquireSend hands out the session for one upstream send. The returned
// release func must be called when the send completes. Fails fast when the
// connection is being deleted or the session is not open.
func (lc *liveConnection) acquireSend() (wasession.Session, func(), error) {
	if lc.deleting.Load() {
		return nil, nil, errConnGone
	}

	lc.mu.RLock()
	if lc.deleting.Load() {
		lc.mu.RUnlock()
		return nil, nil, errConnGone
	}
	if lc.status != models.StatusOpen || lc.session == nil {
		lc.mu.RUnlock()
		return nil, nil, errNotOpen
	}
	return lc.session, lc.mu.RUnlock, nil
}

var (
	errConnGone = errors.New("connection is being deleted")
	errNotOpen  = errors.New("session is not open")
)

// setSession swaps in a freshly dialed session.
func (lc *liveConnection) setSession(s wasession.Session) {
	lc.mu.Lock()
	lc.session = s
	lc.mu.Unlock()
}

// markOpen records the identity captured from the open event. The phone
// number is the portion of the upstream id before the device suffix.
func (lc *liveConnection) markOpen(identity *wasession.Identity, at time.Time) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.status = models.StatusOpen
	lc.qrCode = ""
	lc.lastConnectedAt = at
	if identity != nil {
		lc.whatsAppID = identity.WhatsAppID
		lc.phoneNumber = models.PhoneFromWhatsAppID(identity.WhatsAppID)
		if identity.PushName != "" {
			lc.pushName = identity.PushName
		}
	}
}

func (lc *liveConnection) setStatus(status models.ConnectionStatus) {
	lc.mu.Lock()
	lc.status = status
	if status != models.StatusAwaitingQR {
		lc.qrCode = ""
	}
	lc.mu.Unlock()
}

func (lc *liveConnection) setQR(qr string) {
	lc.mu.Lock()
	lc.status = models.StatusAwaitingQR
	lc.qrCode = qr
	lc.mu.Unlock()
}

func (lc *liveConnection) currentStatus() models.ConnectionStatus {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.status
}

// snapshot builds the API view of this entry. QR codes only ever appear
// here, never in storage.
func (lc *liveConnection) snapshot() *models.ConnectionAPI {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	api := &models.ConnectionAPI{
		ID:          lc.id,
		Name:        lc.name,
		Status:      string(lc.status),
		PhoneNumber: lc.phoneNumber,
		PushName:    lc.pushName,
		QRCode:      lc.qrCode,
		CreatedAt:   lc.createdAt,
	}
	if !lc.lastConnectedAt.IsZero() {
		t := lc.lastConnectedAt
		api.LastConnectedAt = &t
	}
	return api
}

// toModel builds the persistable row for this entry.
func (lc *liveConnection) toModel() *models.Connection {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	conn := &models.Connection{
		OwnerID:         lc.ownerID,
		Name:            lc.name,
		Status:          string(lc.status),
		PhoneNumber:     lc.phoneNumber,
		WhatsAppID:      lc.whatsAppID,
		PushName:        lc.pushName,
		LastConnectedAt: lc.lastConnectedAt,
	}
	conn.ID = lc.id
	return conn
}

// teardown stops the entry. It waits for in-flight sends, closes the
// session best-effort and bumps the generation so stale reconnect timers
// become no-ops. Returns the session that was active, if any.
func (lc *liveConnection) teardown() wasession.Session {
	lc.deleting.Store(true)

	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.generation.Add(1)
	if lc.cancel != nil {
		lc.cancel()
		lc.cancel = nil
	}

	s := lc.session
	lc.session = nil
	lc.status = models.StatusClosing
	return s
}
