// Package sessionmgr is the sole authority over session identity and
// lifecycle (spec.md §4.1). It owns the in-memory session map and is the
// only caller of the Session Store.
package sessionmgr

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/eventbus"
	"github.com/AutoFlowLabs/ios-bridge/internal/hostdriver"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

// HostDriver is the subset of hostdriver.Driver the session manager needs.
// Declaring it here (rather than depending on the concrete type) lets tests
// substitute a fake without standing up a real simulator host.
type HostDriver interface {
	ListDevices(ctx context.Context) ([]model.DeviceRecord, error)
	ListConfigurations(ctx context.Context) (hostdriver.Configurations, error)
	CreateDevice(ctx context.Context, deviceType, runtime string) (string, error)
	Boot(ctx context.Context, udid string) error
	Shutdown(ctx context.Context, udid string) error
	Erase(ctx context.Context, udid string) error
}

// Store is the subset of store.Store the session manager needs.
type Store interface {
	Load() (map[string]*model.Session, error)
	Save(map[string]*model.Session) error
}

// ResourceDetacher lets the session manager ask the resource manager to
// release a device's capture services on delete, without sessionmgr
// importing resourcemgr (spec.md §9: break the cycle via an injected
// interface, never a direct owning reference).
type ResourceDetacher interface {
	DetachDevice(udid string)
}

// Publisher is the subset of eventbus.Broker the session manager needs to
// fan out lifecycle events (SPEC_FULL.md §4.9). A nil Publisher is valid —
// every call site is nil-checked — since "none" mode runs with no event
// fan-out at all.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg eventbus.Message) error
}

// Manager owns Session records end to end.
type Manager struct {
	driver    HostDriver
	store     Store
	detacher  ResourceDetacher
	publisher Publisher
	channel   string
	log       *logrus.Entry

	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// New constructs a Manager. Call Start before serving traffic. publisher and
// channel may be left zero-valued to run with no event fan-out.
func New(driver HostDriver, store Store, detacher ResourceDetacher, publisher Publisher, channel string, log *logrus.Entry) *Manager {
	return &Manager{
		driver:    driver,
		store:     store,
		detacher:  detacher,
		publisher: publisher,
		channel:   channel,
		log:       log,
		sessions:  make(map[string]*model.Session),
	}
}

// publish fans evt out for sess through the configured broker. A nil
// publisher (event bus disabled) and a publish failure are both swallowed
// here — session lifecycle events are observability, not a control-plane
// dependency, so a broker outage must never fail the operation that
// triggered the event.
func (m *Manager) publish(ctx context.Context, evt eventbus.EventType, sess *model.Session) {
	if m.publisher == nil {
		return
	}
	msg := eventbus.Message{
		Type:      evt,
		SessionID: sess.ID,
		UDID:      sess.UDID,
		Timestamp: time.Now(),
	}
	if err := m.publisher.Publish(ctx, m.channel, msg); err != nil && m.log != nil {
		m.log.WithError(err).WithField("event", string(evt)).Warn("failed to publish session lifecycle event")
	}
}

// Start runs the startup protocol (spec.md §4.1): load the store, validate
// every record in parallel, recover orphaned devices, and log a summary.
// Failures validating an individual record are non-fatal — the bad record
// is dropped.
func (m *Manager) Start(ctx context.Context) error {
	loaded, err := m.store.Load()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions = loaded
	m.mu.Unlock()

	validated, dropped := m.validateAll(ctx)

	recovered, err := m.RecoverOrphaned(ctx)
	if err != nil && m.log != nil {
		m.log.WithError(err).Warn("orphan recovery failed during startup")
	}

	if m.log != nil {
		m.log.Infof("session manager started: %d recovered from store, %d dropped (device missing), %d orphaned sessions recovered",
			validated, dropped, len(recovered))
	}
	return m.persist()
}

// validateAll checks every loaded session's UDID against the live device
// list concurrently and removes the ones that fail.
func (m *Manager) validateAll(ctx context.Context) (valid, dropped int) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	results := make([]bool, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = m.validateOne(ctx, id)
		}(i, id)
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		if results[i] {
			valid++
		} else {
			delete(m.sessions, id)
			dropped++
		}
	}
	return valid, dropped
}

func (m *Manager) validateOne(ctx context.Context, id string) bool {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	devices, err := m.driver.ListDevices(ctx)
	if err != nil {
		// A transient host driver failure must not drop a session that is
		// otherwise fine; leave it in place.
		return true
	}
	for _, dev := range devices {
		if dev.UDID == sess.UDID {
			m.mu.Lock()
			sess.LastValidated = time.Now()
			m.mu.Unlock()
			return true
		}
	}
	return false
}

// ListConfigurations proxies to the host driver.
func (m *Manager) ListConfigurations(ctx context.Context) (hostdriver.Configurations, error) {
	return m.driver.ListConfigurations(ctx)
}

// Create allocates and boots a new device, then persists the session.
func (m *Manager) Create(ctx context.Context, deviceType, osVersion string) (*model.Session, error) {
	if deviceType == "" || osVersion == "" {
		return nil, apperr.New(apperr.KindConfiguration, "device_type and os_version are required")
	}

	udid, err := m.driver.CreateDevice(ctx, deviceType, osVersion)
	if err != nil {
		return nil, err
	}
	if err := m.driver.Boot(ctx, udid); err != nil {
		return nil, apperr.Wrap(apperr.KindHostDriver, "boot failed", err)
	}

	dims := hostdriver.DimensionsFor(deviceType)
	sess := &model.Session{
		ID:            uuid.New().String(),
		UDID:          udid,
		DeviceType:    deviceType,
		OSVersion:     osVersion,
		PointWidth:    dims.PointWidth,
		PointHeight:   dims.PointHeight,
		PixelWidth:    dims.PointWidth * dims.Scale,
		PixelHeight:   dims.PointHeight * dims.Scale,
		Scale:         dims.Scale,
		CreatedAt:     time.Now(),
		LastValidated: time.Now(),
		InstalledApps: make(map[string]model.InstalledApp),
	}

	m.mu.Lock()
	if _, exists := m.sessions[sess.ID]; exists {
		m.mu.Unlock()
		return nil, apperr.New(apperr.KindInternal, "session id collision")
	}
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		return nil, err
	}
	m.publish(ctx, eventbus.EventSessionCreated, sess)
	return sess.Clone(), nil
}

// Get returns a snapshot of the session with the given id.
func (m *Manager) Get(id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "session not found")
	}
	return sess.Clone(), nil
}

// List returns a snapshot of every session whose device is still live.
// Sessions whose device has disappeared are left out of the result but stay
// in the underlying map; Refresh is what removes them.
func (m *Manager) List(ctx context.Context) ([]*model.Session, error) {
	devices, err := m.driver.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(devices))
	for _, dev := range devices {
		live[dev.UDID] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if !live[sess.UDID] {
			continue
		}
		out = append(out, sess.Clone())
	}
	return out, nil
}

// Delete detaches capture services, shuts the device down, erases it, and
// removes the session record.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return apperr.New(apperr.KindNotFound, "session not found")
	}

	if m.detacher != nil {
		m.detacher.DetachDevice(sess.UDID)
	}

	if err := m.driver.Shutdown(ctx, sess.UDID); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		if m.log != nil {
			m.log.WithError(err).Warnf("shutdown failed for %s during delete, continuing", sess.UDID)
		}
	}
	if err := m.driver.Erase(ctx, sess.UDID); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		if m.log != nil {
			m.log.WithError(err).Warnf("erase failed for %s during delete, continuing", sess.UDID)
		}
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		return err
	}
	m.publish(ctx, eventbus.EventSessionDeleted, sess)
	return nil
}

// DeleteAll removes every session, returning the count deleted.
func (m *Manager) DeleteAll(ctx context.Context) (int, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	count := 0
	for _, id := range ids {
		if err := m.Delete(ctx, id); err == nil {
			count++
		}
	}
	return count, nil
}

// Validate cross-checks a session's UDID against the live device list. It
// is pure and side-effect-free except for updating LastValidated.
func (m *Manager) Validate(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	_, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false, apperr.New(apperr.KindNotFound, "session not found")
	}
	return m.validateOne(ctx, id), nil
}

// RecoverOrphaned finds booted devices with no corresponding session and
// synthesizes sessions for them. It is idempotent: a second call with no
// external change finds nothing new.
func (m *Manager) RecoverOrphaned(ctx context.Context) ([]*model.Session, error) {
	devices, err := m.driver.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	covered := make(map[string]bool, len(m.sessions))
	for _, sess := range m.sessions {
		covered[sess.UDID] = true
	}

	var recovered []*model.Session
	for _, dev := range devices {
		if dev.State != model.DeviceBooted || covered[dev.UDID] {
			continue
		}
		dims := hostdriver.DimensionsFor(dev.Name)
		sess := &model.Session{
			ID:            uuid.New().String(),
			UDID:          dev.UDID,
			DeviceType:    dev.Name,
			OSVersion:     dev.Runtime,
			PointWidth:    dims.PointWidth,
			PointHeight:   dims.PointHeight,
			PixelWidth:    dims.PointWidth * dims.Scale,
			PixelHeight:   dims.PointHeight * dims.Scale,
			Scale:         dims.Scale,
			CreatedAt:     time.Now(),
			LastValidated: time.Now(),
			InstalledApps: make(map[string]model.InstalledApp),
		}
		m.sessions[sess.ID] = sess
		recovered = append(recovered, sess.Clone())
		covered[dev.UDID] = true
	}
	m.mu.Unlock()

	if len(recovered) > 0 {
		if err := m.persist(); err != nil {
			return recovered, err
		}
	}
	for _, sess := range recovered {
		m.publish(ctx, eventbus.EventOrphanRecovered, sess)
	}
	return recovered, nil
}

// Refresh runs validation over every record, dropping the ones whose
// devices no longer exist.
func (m *Manager) Refresh(ctx context.Context) ([]*model.Session, error) {
	m.validateAll(ctx)
	return m.List(ctx)
}

// MarkAppInstalled records app metadata after a successful install.
func (m *Manager) MarkAppInstalled(id string, app model.InstalledApp) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return apperr.New(apperr.KindNotFound, "session not found")
	}
	sess.InstalledApps[app.BundleID] = app
	err := m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.publish(context.Background(), eventbus.EventAppInstalled, sess)
	return nil
}

// MarkAppRemoved drops app metadata after uninstall.
func (m *Manager) MarkAppRemoved(id, bundleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "session not found")
	}
	delete(sess.InstalledApps, bundleID)
	return m.persistLocked()
}

// udidFor is the locked map lookup behind UDIDFor, which is what transports
// call to resolve a session id to its device UDID.
func (m *Manager) udidFor(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return "", false
	}
	return sess.UDID, true
}

// UDIDFor resolves a session id to its device UDID.
func (m *Manager) UDIDFor(id string) (string, error) {
	udid, ok := m.udidFor(id)
	if !ok {
		return "", apperr.New(apperr.KindNotFound, "session not found")
	}
	return udid, nil
}

func (m *Manager) persist() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.persistLocked()
}

// persistLocked assumes the caller already holds m.mu.
func (m *Manager) persistLocked() error {
	snapshot := make(map[string]*model.Session, len(m.sessions))
	for id, sess := range m.sessions {
		snapshot[id] = sess
	}
	return m.store.Save(snapshot)
}
