// Package resourcemgr implements the Resource Manager (spec.md §4.5): it
// owns every capture.Service, enforces the idle-eviction grace window, and
// runs the memory-pressure sweep that drives emergency cleanup under
// pressure.
package resourcemgr

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/capture"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

// HostDriver is the subset of hostdriver.Driver a capture service needs.
type HostDriver interface {
	capture.HostDriver
}

// Config carries the Resource Manager's tunables (spec.md §4.5 / §6).
type Config struct {
	MaxMemoryMB         int
	MemoryCheckInterval time.Duration
	ServiceIdleTimeout  time.Duration
	Capture             capture.Config
}

// entry is one pooled capture service plus its WebRTC wrapper.
type entry struct {
	svc    *capture.Service
	webrtc *capture.WebRTCService
}

// Manager is the process-wide pool of capture services, keyed by UDID.
type Manager struct {
	driver HostDriver
	cfg    Config
	log    *logrus.Entry

	mu       sync.Mutex
	services map[string]*entry

	cancel context.CancelFunc
}

// New constructs a Manager. Call Start to launch the memory sweep.
func New(driver HostDriver, cfg Config, log *logrus.Entry) *Manager {
	return &Manager{
		driver:   driver,
		cfg:      cfg,
		log:      log,
		services: make(map[string]*entry),
	}
}

// Start launches the background memory-pressure sampler.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.memoryLoop(ctx)
	go m.idleSweepLoop(ctx)
}

// Stop halts the background loops and closes every pooled service.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.CleanupAll()
}

// GetVideo returns (creating if absent) the frame-push capture service for
// udid and attaches clientID to it. dims seeds a newly created service's
// frame dimensions (spec.md §3); ignored if a service for udid already
// exists, since a device's dimensions never change mid-session.
func (m *Manager) GetVideo(udid, clientID string, dims capture.Dimensions) (*capture.Service, error) {
	e := m.entryFor(udid, dims)
	e.svc.Acquire(clientID, capture.KindFramePush)
	return e.svc, nil
}

// GetUltraLowLatency returns the shared service for udid, attaching
// clientID under the ultra-low-latency consumption mode.
func (m *Manager) GetUltraLowLatency(udid, clientID string, dims capture.Dimensions) (*capture.Service, error) {
	e := m.entryFor(udid, dims)
	e.svc.Acquire(clientID, capture.KindUltraLowLatency)
	return e.svc, nil
}

// GetWebRTC returns the shared WebRTC signaling wrapper for udid. The
// caller still must call Offer(clientID, sdp) to actually attach.
func (m *Manager) GetWebRTC(udid string, dims capture.Dimensions) (*capture.WebRTCService, error) {
	e := m.entryFor(udid, dims)
	return e.webrtc, nil
}

// SetQuality reconfigures udid's shared capture worker, for mid-session
// quality/fps changes requested over a streaming connection.
func (m *Manager) SetQuality(udid string, q model.Quality) {
	m.mu.Lock()
	e, ok := m.services[udid]
	m.mu.Unlock()
	if !ok {
		return
	}
	e.svc.SetQuality(q)
}

// ReleaseVideo detaches clientID from udid's frame-push/ultra-low-latency
// consumption. The underlying service is left pooled (idle grace window).
func (m *Manager) ReleaseVideo(udid, clientID string) {
	m.mu.Lock()
	e, ok := m.services[udid]
	m.mu.Unlock()
	if !ok {
		return
	}
	e.svc.Release(clientID)
}

// ReleaseWebRTC tears down clientID's peer connection and detaches it from
// udid's shared service.
func (m *Manager) ReleaseWebRTC(udid, clientID string) {
	m.mu.Lock()
	e, ok := m.services[udid]
	m.mu.Unlock()
	if !ok {
		return
	}
	e.webrtc.Close(clientID)
}

// DetachDevice satisfies sessionmgr.ResourceDetacher: it tears down every
// capture service for udid regardless of client count, called on session
// delete (spec.md §9's injected-interface cycle break).
func (m *Manager) DetachDevice(udid string) {
	m.mu.Lock()
	e, ok := m.services[udid]
	if ok {
		delete(m.services, udid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	e.webrtc.CloseAll()
	e.svc.Stop()
}

// CleanupAll tears down every pooled service, for shutdown.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	udids := make([]string, 0, len(m.services))
	for udid := range m.services {
		udids = append(udids, udid)
	}
	m.mu.Unlock()
	for _, udid := range udids {
		m.DetachDevice(udid)
	}
}

// Stats is the snapshot returned by stats().
type Stats struct {
	ServiceCount  int
	ClientCount   int
	TotalDrops    uint64
	MemoryPercent float64
}

// Stats reports pool-wide counters for the health/stats surface.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var clients int
	var drops uint64
	for _, e := range m.services {
		clients += e.svc.ClientCount()
		drops += e.svc.DropCount()
	}
	pct, _ := memoryPercent(m.cfg.MaxMemoryMB)
	return Stats{
		ServiceCount:  len(m.services),
		ClientCount:   clients,
		TotalDrops:    drops,
		MemoryPercent: pct,
	}
}

// entryFor returns the pooled entry for udid, constructing one (seeded
// with dims) if absent.
func (m *Manager) entryFor(udid string, dims capture.Dimensions) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.services[udid]; ok {
		return e
	}

	svc := capture.NewService(udid, m.driver, m.cfg.Capture, dims, nil, m.log)
	e := &entry{svc: svc, webrtc: capture.NewWebRTCService(svc, m.log)}
	m.services[udid] = e
	return e
}

// guarded runs fn under a recover so a panic in one tick of a background
// loop logs and is swallowed instead of taking the loop (and the process)
// down with it (spec.md §7, "never-fatal by design").
func (m *Manager) guarded(loop string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if m.log != nil {
				m.log.WithField("loop", loop).WithField("panic", r).Error("background loop tick recovered from panic")
			}
		}
	}()
	fn()
}

// memoryLoop samples resident memory every MemoryCheckInterval and reacts
// to the 80%/100% thresholds (spec.md §4.5).
func (m *Manager) memoryLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MemoryCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.guarded("memoryLoop", func() {
				pct, err := memoryPercent(m.cfg.MaxMemoryMB)
				if err != nil {
					if m.log != nil {
						m.log.WithError(err).Warn("memory sample failed")
					}
					return
				}
				switch {
				case pct >= 1.0:
					m.emergencyCleanup()
				case pct >= 0.8:
					m.idleEviction()
				}
			})
		}
	}
}

// idleSweepLoop evicts services that have been idle past ServiceIdleTimeout,
// independent of memory pressure (spec.md §4.4's "background sweep evicts
// services whose idle-for > 5 min").
func (m *Manager) idleSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.guarded("idleSweepLoop", func() {
				m.evictWhere(func(e *entry) bool {
					return e.svc.ClientCount() == 0 && e.svc.IdleFor() > m.cfg.ServiceIdleTimeout
				}, 0)
			})
		}
	}
}

// idleEviction closes every zero-client service, unconditionally (soft
// pressure response — spec.md §4.5's 80% threshold).
func (m *Manager) idleEviction() {
	m.evictWhere(func(e *entry) bool { return e.svc.ClientCount() == 0 }, 0)
}

// emergencyCleanup closes up to three zero-client services — spec.md
// §4.5's hard 100% threshold. All candidates have zero clients, so the
// client-count sort does not order them: which three are closed follows
// map iteration order and is not defined. It never touches a service with
// active clients.
func (m *Manager) emergencyCleanup() {
	m.evictWhere(func(e *entry) bool { return e.svc.ClientCount() == 0 }, 3)
}

// evictWhere tears down every pooled service matching pred, capped at max
// (0 means unlimited).
func (m *Manager) evictWhere(pred func(*entry) bool, max int) {
	m.mu.Lock()
	type candidate struct {
		udid string
		e    *entry
	}
	var matched []candidate
	for udid, e := range m.services {
		if pred(e) {
			matched = append(matched, candidate{udid, e})
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].e.svc.ClientCount() < matched[j].e.svc.ClientCount()
	})
	if max > 0 && len(matched) > max {
		matched = matched[:max]
	}
	for _, c := range matched {
		delete(m.services, c.udid)
	}
	m.mu.Unlock()

	for _, c := range matched {
		c.e.webrtc.CloseAll()
		c.e.svc.Stop()
		if m.log != nil {
			m.log.WithField("udid", c.udid).Info("capture service evicted")
		}
	}
}

// memoryPercent returns the fraction (0..1+) of maxMemoryMB currently
// resident in this process, via gopsutil's per-process RSS sample
// (spec.md §4.5's "process-wide memory limits").
func memoryPercent(maxMemoryMB int) (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIO, "failed to open self process handle", err)
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindIO, "failed to sample memory", err)
	}
	capBytes := float64(maxMemoryMB) * 1024 * 1024
	if capBytes <= 0 {
		return 0, nil
	}
	return float64(info.RSS) / capBytes, nil
}
