// Package connmgr implements the Connection Manager (spec.md §4.6):
// authorization and full-lifetime tracking of every transport connection,
// sliding-window rate limiting, per-session capacity caps, and a weak
// handle reaper.
package connmgr

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
)

// Kind identifies which transport endpoint a connection belongs to, used
// only for the stats() breakdown — capacity is enforced per spec.md §9's
// Open Question resolution as a single per-session total, not per-kind.
type Kind string

const (
	KindControl  Kind = "control"
	KindVideo    Kind = "video"
	KindUltraLow Kind = "ultra-low-latency"
	KindWebRTC   Kind = "webrtc"
	KindScreen   Kind = "screenshot"
	KindLogs     Kind = "logs"
)

// Handle is a weakly-tracked connection record: the registry holds the
// handle but never assumes it is still live. A transport that leaks a
// socket without unregistering leaves an entry whose Closed() eventually
// reports true, and the reaper sweeps it away — Go's `weak` package is
// newer than this module's target toolchain (go 1.21), so liveness is tracked with an atomic flag the
// transport sets on its own close path instead of a language-level weak
// reference (SPEC_FULL.md §5).
type Handle struct {
	closed atomicBool
}

// NewHandle constructs a live handle.
func NewHandle() *Handle { return &Handle{} }

// MarkClosed flags the handle as no longer live. Idempotent.
func (h *Handle) MarkClosed() { h.closed.set(true) }

// Closed reports whether the handle's owner has closed it.
func (h *Handle) Closed() bool { return h.closed.get() }

type registration struct {
	session string
	kind    Kind
	addr    string
	handle  *Handle
	since   time.Time
}

// Config carries the Connection Manager's tunables (spec.md §4.6 / §6).
type Config struct {
	MaxPerSession   int
	MaxPerMinute    int
	RateLimitWindow time.Duration
	ReapInterval    time.Duration
}

// Manager tracks every live connection and enforces rate limits and caps.
type Manager struct {
	cfg Config
	log *logrus.Entry

	mu       sync.Mutex
	byID     map[string]*registration
	bySess   map[string]map[string]bool // session -> set of registration ids
	attempts map[string][]time.Time     // (session|addr) -> attempt timestamps

	shared *SharedLimiter
	nextID uint64
}

// New constructs a Manager with the default in-process rate limiter.
func New(cfg Config, log *logrus.Entry) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      log,
		byID:     make(map[string]*registration),
		bySess:   make(map[string]map[string]bool),
		attempts: make(map[string][]time.Time),
	}
}

// AttachSharedLimiter switches rate limiting from the in-process map to a
// Redis-backed SharedLimiter, for multi-instance deployments.
func (m *Manager) AttachSharedLimiter(s *SharedLimiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shared = s
}

// TryRegister authorizes and tracks a new connection, or returns a
// distinct error kind per spec.md §4.6: rate-limited, cap-exceeded, or
// session-invalid (callers are expected to have already validated the
// session and pass sessionValid accordingly — this package owns capacity
// and rate limiting only, not session identity).
func (m *Manager) TryRegister(ctx context.Context, session, sourceAddr string, kind Kind, handle *Handle, sessionValid bool) (id string, err error) {
	if !sessionValid {
		return "", apperr.New(apperr.KindSessionInvalid, "session is not valid")
	}

	bucketKey := session + "|" + sourceAddr
	allowed, err := m.checkRateLimit(ctx, bucketKey)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", apperr.New(apperr.KindRateLimited, "connection rate limit exceeded")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.bySess[session]) >= m.cfg.MaxPerSession {
		return "", apperr.New(apperr.KindCapExceeded, "per-session connection cap exceeded")
	}

	m.nextID++
	id = strconv.FormatUint(m.nextID, 10)
	m.byID[id] = &registration{session: session, kind: kind, addr: sourceAddr, handle: handle, since: time.Now()}
	if m.bySess[session] == nil {
		m.bySess[session] = make(map[string]bool)
	}
	m.bySess[session][id] = true
	return id, nil
}

// checkRateLimit consults the shared Redis limiter when one is attached,
// falling back to the in-process sliding window otherwise.
func (m *Manager) checkRateLimit(ctx context.Context, bucketKey string) (bool, error) {
	m.mu.Lock()
	shared := m.shared
	m.mu.Unlock()

	if shared != nil {
		return shared.Allow(ctx, bucketKey)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allow(bucketKey, time.Now()), nil
}

// Unregister removes a connection by id. Safe to call more than once.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregisterLocked(id)
}

func (m *Manager) unregisterLocked(id string) {
	reg, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byID, id)
	if set, ok := m.bySess[reg.session]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m.bySess, reg.session)
		}
	}
}

// ScopedRegister registers a connection and returns a release function the
// caller must defer immediately, guaranteeing unregistration on every exit
// path including panics (spec.md §4.6).
func (m *Manager) ScopedRegister(ctx context.Context, session, sourceAddr string, kind Kind, handle *Handle, sessionValid bool) (release func(), err error) {
	id, err := m.TryRegister(ctx, session, sourceAddr, kind, handle, sessionValid)
	if err != nil {
		return func() {}, err
	}
	return func() { m.Unregister(id) }, nil
}

// allow applies the sliding-window rate limiter for bucketKey, pruning
// timestamps outside the window before counting. Caller holds m.mu.
func (m *Manager) allow(bucketKey string, now time.Time) bool {
	cutoff := now.Add(-m.cfg.RateLimitWindow)
	kept := m.attempts[bucketKey][:0]
	for _, t := range m.attempts[bucketKey] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= m.cfg.MaxPerMinute {
		m.attempts[bucketKey] = kept
		return false
	}
	m.attempts[bucketKey] = append(kept, now)
	return true
}

// Stats is the full live-state snapshot returned by stats().
type Stats struct {
	TotalConnections int
	PerSession       map[string]int
	PerKind          map[Kind]int
}

// Stats returns a full snapshot of live connection state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{PerSession: make(map[string]int), PerKind: make(map[Kind]int)}
	for _, reg := range m.byID {
		s.TotalConnections++
		s.PerSession[reg.session]++
		s.PerKind[reg.kind]++
	}
	return s
}

// StartReaper launches the periodic sweep that removes entries whose
// handle has been closed by its owning transport without unregistering.
func (m *Manager) StartReaper(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(m.cfg.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.guarded(m.reapOnce)
			}
		}
	}()
}

// guarded runs fn under a recover so a panic during one reap tick doesn't
// take the reaper goroutine (and the process) down with it (spec.md §7).
func (m *Manager) guarded(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if m.log != nil {
				m.log.WithField("panic", r).Error("connection reaper tick recovered from panic")
			}
		}
	}()
	fn()
}

func (m *Manager) reapOnce() {
	m.mu.Lock()
	var dead []string
	for id, reg := range m.byID {
		if reg.handle != nil && reg.handle.Closed() {
			dead = append(dead, id)
		}
	}
	sort.Strings(dead) // deterministic log ordering only
	for _, id := range dead {
		m.unregisterLocked(id)
	}
	m.mu.Unlock()

	if len(dead) > 0 && m.log != nil {
		m.log.Infof("connection reaper removed %d stale entries", len(dead))
	}
}
