// Package capture implements the per-device Capture Service (spec.md
// §4.4): a frame-producing worker with a host-driver method fallback
// chain, bounded frame queues per consumption mode, and acquire/release
// client-set lifecycle feeding the idle-eviction sweep in resourcemgr.
package capture

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

// HostDriver is the subset of hostdriver.Driver a capture worker needs to
// produce frames: one Screenshot call per frame.
type HostDriver interface {
	Screenshot(ctx context.Context, udid, format string) ([]byte, error)
}

// Kind identifies which consumption mode a client is acquiring frames for.
type Kind int

const (
	KindFramePush Kind = iota
	KindUltraLowLatency
	KindWebRTC
)

// Config carries the tunables a Service needs, lifted from
// config.CaptureConfig so this package doesn't import config directly.
type Config struct {
	FramePushQueueSize       int
	UltraLowLatencyQueueSize int
	WebRTCQueueSize          int
}

// Dimensions is a device's logical point size and physical pixel size, set
// once at Service construction time from the owning session's record
// (spec.md §3 Frame data model) and stamped onto every Frame this Service
// produces for its entire lifetime.
type Dimensions struct {
	PointWidth  int
	PointHeight int
	PixelWidth  int
	PixelHeight int
}

// IdleNotifier is called with the Service's device UDID every time the
// Service's client set becomes empty, so resourcemgr can drive its sweep
// without capture depending on resourcemgr.
type IdleNotifier func(udid string)

// Service is the single capture worker for one device. Exactly one is
// ever active per UDID — acquisition is arbitrated by resourcemgr's pool.
type Service struct {
	udid   string
	driver HostDriver
	log    *logrus.Entry
	onIdle IdleNotifier
	dims   Dimensions

	standard *ring
	ultra    *ring
	webrtc   *ring

	mu       sync.Mutex
	clients  map[string]Kind
	quality  model.Quality
	dq       disqualification
	idleSince time.Time

	seq    atomic.Uint64
	drops  atomic.Uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService constructs a Service and starts its capture worker. Callers
// (resourcemgr) are responsible for calling Stop exactly once.
func NewService(udid string, driver HostDriver, cfg Config, dims Dimensions, onIdle IdleNotifier, log *logrus.Entry) *Service {
	s := &Service{
		udid:     udid,
		driver:   driver,
		log:      log,
		onIdle:   onIdle,
		dims:     dims,
		standard: newRing(cfg.FramePushQueueSize),
		ultra:    newRing(cfg.UltraLowLatencyQueueSize),
		webrtc:   newRing(cfg.WebRTCQueueSize),
		clients:  make(map[string]Kind),
		quality:  model.QualityMedium,
		done:     make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.runSupervised(ctx)
	return s
}

// Acquire adds clientID to the service's client set under kind, clearing
// idle state. Safe to call for a client already present (kind is updated).
func (s *Service) Acquire(clientID string, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[clientID] = kind
	s.idleSince = time.Time{}
}

// Release removes clientID. When the client set empties the service is
// marked idle at the current time and onIdle fires.
func (s *Service) Release(clientID string) {
	s.mu.Lock()
	delete(s.clients, clientID)
	empty := len(s.clients) == 0
	if empty {
		s.idleSince = time.Now()
	}
	s.mu.Unlock()

	if empty && s.onIdle != nil {
		s.onIdle(s.udid)
	}
}

// ClientCount returns the number of currently attached clients.
func (s *Service) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// IdleFor reports how long the service has had zero clients, or zero if
// it currently has clients.
func (s *Service) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) > 0 || s.idleSince.IsZero() {
		return 0
	}
	return time.Since(s.idleSince)
}

// SetQuality reconfigures the worker's target preset. The worker only
// reads quality between frames, never mid-frame, per spec.md §4.4.
func (s *Service) SetQuality(q model.Quality) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if model.ValidQuality(string(q)) {
		s.quality = q
	}
}

func (s *Service) currentQuality() model.Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

// Frame blocks up to the caller's timeout for the next frame past lastSeq
// on the ring matching kind.
func (s *Service) Frame(kind Kind, lastSeq uint64, timeout time.Duration) (model.Frame, bool) {
	switch kind {
	case KindUltraLowLatency:
		return s.ultra.Pop(lastSeq, timeout)
	case KindWebRTC:
		return s.webrtc.Pop(lastSeq, timeout)
	default:
		return s.standard.Pop(lastSeq, timeout)
	}
}

// DropCount returns the cumulative number of frames dropped across every
// ring for this service, for stats() reporting.
func (s *Service) DropCount() uint64 {
	return s.standard.Drops() + s.ultra.Drops() + s.webrtc.Drops()
}

// Stop halts the capture worker and closes every ring. Idempotent.
func (s *Service) Stop() {
	s.cancel()
	<-s.done
	s.standard.Close()
	s.ultra.Close()
	s.webrtc.Close()
}

// runSupervised runs the capture worker with a panic guard: a crash
// restarts the worker once before the failure is treated as persistent
// (spec.md §7, "a capture worker crash must restart itself once before
// surfacing a persistent failure"). A clean exit from run (context
// cancelled, or every fallback method disqualified) never retries.
func (s *Service) runSupervised(ctx context.Context) {
	defer close(s.done)

	for attempt := 0; attempt < 2; attempt++ {
		clean := s.runOnce(ctx)
		if clean || ctx.Err() != nil {
			return
		}
		if attempt == 0 && s.log != nil {
			s.log.WithField("udid", s.udid).Warn("capture worker panicked, restarting once")
		}
	}
	if s.log != nil {
		s.log.WithField("udid", s.udid).Error("capture worker panicked twice, giving up")
	}
}

// runOnce runs run under a recover, reporting whether it returned cleanly.
func (s *Service) runOnce(ctx context.Context) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.WithField("udid", s.udid).WithField("panic", r).Error("capture worker recovered from panic")
			}
			clean = false
		}
	}()
	s.run(ctx)
	return true
}

// run is the capture worker: it walks the method fallback chain, producing
// frames until the context is cancelled or every method is disqualified.
func (s *Service) run(ctx context.Context) {
	m, ok := nextMethod(methodStream, 0)
	for ok {
		err := s.runMethod(ctx, m)
		if ctx.Err() != nil {
			return
		}
		if s.log != nil {
			s.log.WithError(err).WithField("method", m.String()).WithField("udid", s.udid).
				Warn("capture method failed, disqualifying and falling back")
		}
		s.mu.Lock()
		s.dq = s.dq.with(m)
		dq := s.dq
		s.mu.Unlock()
		m, ok = nextMethod(m+1, dq)
	}
	if s.log != nil {
		s.log.WithField("udid", s.udid).Error("every capture method exhausted, worker exiting")
	}
}

// runMethod drives one fallback method until it errors or ctx is done.
// Only the screenshot-loop method is implemented against a real host
// driver call today; stream/hw-encode/sw-encode are placeholders that
// immediately fail over — the simulator host driver used here only
// exposes `simctl io recordVideo` and `simctl io screenshot`, neither of
// which yields a hardware-encoded stream, so those methods are expected
// to disqualify on first use in practice.
func (s *Service) runMethod(ctx context.Context, m method) error {
	switch m {
	case methodStream, methodHWEncode, methodSWEncode:
		return apperr.New(apperr.KindUnsupported, m.String()+" not available on this host driver")
	case methodScreenshotLoop:
		return s.screenshotLoop(ctx)
	default:
		return apperr.New(apperr.KindInternal, "unknown capture method")
	}
}

func (s *Service) screenshotLoop(ctx context.Context) error {
	for {
		preset := model.PresetFor(s.currentQuality())
		interval := time.Second / time.Duration(preset.TargetFPS)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		data, err := s.driver.Screenshot(ctx, s.udid, "jpeg")
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		payload, pixW, pixH := s.reencode(data, preset)

		f := model.Frame{
			Payload:     payload,
			PixelWidth:  pixW,
			PixelHeight: pixH,
			PointWidth:  s.dims.PointWidth,
			PointHeight: s.dims.PointHeight,
			Sequence:    s.seq.Add(1),
			CapturedAt:  time.Now(),
			Format:      "jpeg",
		}
		s.standard.Push(f)
		s.ultra.Push(f)
		s.webrtc.Push(f)
	}
}

// reencode resizes a captured screenshot to preset's resolution factor and
// re-encodes it at preset's JPEG quality (spec.md §4.4: quality controls
// "frame size, target FPS, JPEG quality" together, not FPS alone). A
// decode or encode failure falls back to the original payload and the
// service's native pixel dimensions — one bad frame must never disqualify
// the capture method.
func (s *Service) reencode(data []byte, preset model.QualityPreset) ([]byte, int, int) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		if s.log != nil {
			s.log.WithError(err).WithField("udid", s.udid).Debug("screenshot decode failed, passing frame through unresized")
		}
		return data, s.dims.PixelWidth, s.dims.PixelHeight
	}

	targetW := scaledDimension(s.dims.PixelWidth, preset.ResolutionFactor, img.Bounds().Dx())
	targetH := scaledDimension(s.dims.PixelHeight, preset.ResolutionFactor, img.Bounds().Dy())
	resized := imaging.Resize(img, targetW, targetH, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(preset.JPEGQuality)); err != nil {
		if s.log != nil {
			s.log.WithError(err).WithField("udid", s.udid).Warn("jpeg re-encode failed, passing frame through unresized")
		}
		return data, s.dims.PixelWidth, s.dims.PixelHeight
	}
	return buf.Bytes(), resized.Bounds().Dx(), resized.Bounds().Dy()
}

// scaledDimension applies factor to native, falling back to the decoded
// image's own size when the service was never told the device's native
// pixel dimensions (e.g. in tests that construct a bare Service).
func scaledDimension(native int, factor float64, fallback int) int {
	if native <= 0 {
		native = fallback
	}
	d := int(float64(native) * factor)
	if d < 1 {
		d = 1
	}
	return d
}
