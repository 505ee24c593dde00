// Package recording implements the Recording Service (spec.md §4.8):
// per-session MP4 capture via the host driver's video child process, with
// an emergency-save path on shutdown.
package recording

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/eventbus"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

// HostDriver is the subset of hostdriver.Driver a Recorder needs.
type HostDriver interface {
	StartVideo(ctx context.Context, udid, sinkPath string) (VideoHandle, error)
	StopVideo(h VideoHandle, grace time.Duration) error
}

// VideoHandle abstracts hostdriver.VideoHandle so this package doesn't
// depend on hostdriver's concrete type.
type VideoHandle interface{}

// Config carries the Recording Service's tunables (spec.md §4.8 / §6).
type Config struct {
	ScratchDir          string
	EmergencyDir        string
	StopGrace           time.Duration
	EmergencyGrace      time.Duration
	EmergencyMaxAge     time.Duration
}

type activeRecording struct {
	rec    *model.Recording
	handle VideoHandle
	udid   string
}

// Publisher is the subset of eventbus.Broker the recorder needs to fan out
// recording lifecycle events (SPEC_FULL.md §4.9). A nil Publisher is valid.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg eventbus.Message) error
}

// Recorder owns every session's recording lifecycle.
type Recorder struct {
	driver    HostDriver
	cfg       Config
	publisher Publisher
	channel   string
	log       *logrus.Entry

	mu     sync.Mutex
	active map[string]*activeRecording
}

// New constructs a Recorder. ScratchDir and EmergencyDir are created if
// absent. publisher and channel may be left zero-valued to run with no
// event fan-out.
func New(driver HostDriver, cfg Config, publisher Publisher, channel string, log *logrus.Entry) (*Recorder, error) {
	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "failed to create recording scratch dir", err)
	}
	if err := os.MkdirAll(cfg.EmergencyDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "failed to create emergency recording dir", err)
	}
	return &Recorder{driver: driver, cfg: cfg, publisher: publisher, channel: channel, log: log, active: make(map[string]*activeRecording)}, nil
}

// publish fans evt out for a session/udid pair through the configured
// broker, swallowing a nil publisher or a publish failure — recording
// lifecycle events are observability, never a condition that should fail
// the start/stop operation that triggered them.
func (r *Recorder) publish(ctx context.Context, evt eventbus.EventType, sessionID, udid string) {
	if r.publisher == nil {
		return
	}
	msg := eventbus.Message{Type: evt, SessionID: sessionID, UDID: udid, Timestamp: time.Now()}
	if err := r.publisher.Publish(ctx, r.channel, msg); err != nil && r.log != nil {
		r.log.WithError(err).WithField("event", string(evt)).Warn("failed to publish recording lifecycle event")
	}
}

// Start begins recording sessionID/udid's screen. Returns already-recording
// if one is already active for the session.
func (r *Recorder) Start(ctx context.Context, sessionID, udid string) error {
	r.mu.Lock()
	if _, exists := r.active[sessionID]; exists {
		r.mu.Unlock()
		return apperr.New(apperr.KindBadState, "already-recording")
	}
	r.mu.Unlock()

	scratch := r.scratchDir(sessionID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return apperr.Wrap(apperr.KindIO, "failed to create session scratch dir", err)
	}
	tempPath := filepath.Join(scratch, "capture.mp4")

	handle, err := r.driver.StartVideo(ctx, udid, tempPath)
	if err != nil {
		os.RemoveAll(scratch)
		return err
	}

	r.mu.Lock()
	r.active[sessionID] = &activeRecording{
		rec: &model.Recording{
			SessionID: sessionID,
			TempPath:  tempPath,
			StartedAt: time.Now(),
			State:     model.RecordingActive,
		},
		handle: handle,
		udid:   udid,
	}
	r.mu.Unlock()
	r.publish(ctx, eventbus.EventRecordingStarted, sessionID, udid)
	return nil
}

// Stop finalizes sessionID's recording and returns the MP4 bytes. Returns
// not-recording if none is active.
func (r *Recorder) Stop(sessionID string) ([]byte, error) {
	r.mu.Lock()
	rec, ok := r.active[sessionID]
	if ok {
		rec.rec.State = model.RecordingStopping
	}
	r.mu.Unlock()
	if !ok {
		return nil, apperr.New(apperr.KindBadState, "not-recording")
	}

	if err := r.driver.StopVideo(rec.handle, r.cfg.StopGrace); err != nil {
		if r.log != nil {
			r.log.WithError(err).Warnf("stop-video reported an error for session %s, reading file anyway", sessionID)
		}
	}

	data, err := os.ReadFile(rec.rec.TempPath)
	if err != nil {
		r.mu.Lock()
		delete(r.active, sessionID)
		r.mu.Unlock()
		return nil, apperr.Wrap(apperr.KindIO, "failed to read finalized recording", err)
	}

	os.RemoveAll(r.scratchDir(sessionID))

	r.mu.Lock()
	delete(r.active, sessionID)
	r.mu.Unlock()

	r.publish(context.Background(), eventbus.EventRecordingStopped, sessionID, rec.udid)
	return data, nil
}

// Status returns the current recording state for sessionID, or idle if
// none is active.
func (r *Recorder) Status(sessionID string) model.Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.active[sessionID]; ok {
		return *rec.rec
	}
	return model.Recording{SessionID: sessionID, State: model.RecordingIdle}
}

// CleanupAll removes emergency recordings older than EmergencyMaxAge.
func (r *Recorder) CleanupAll() (removed int, err error) {
	entries, err := os.ReadDir(r.cfg.EmergencyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, apperr.Wrap(apperr.KindIO, "failed to list emergency recordings", err)
	}

	cutoff := time.Now().Add(-r.cfg.EmergencyMaxAge)
	for _, entry := range entries {
		info, statErr := entry.Info()
		if statErr != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(filepath.Join(r.cfg.EmergencyDir, entry.Name())); rmErr == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// EmergencySaveAll stops every active recording with the longer shutdown
// grace and moves the resulting (possibly truncated) MP4 into the
// emergency directory, named by session and timestamp (spec.md §4.8).
func (r *Recorder) EmergencySaveAll() {
	r.mu.Lock()
	sessions := make([]*activeRecording, 0, len(r.active))
	for _, rec := range r.active {
		sessions = append(sessions, rec)
	}
	r.mu.Unlock()

	for _, rec := range sessions {
		r.emergencySaveOne(rec)
	}
}

func (r *Recorder) emergencySaveOne(rec *activeRecording) {
	if err := r.driver.StopVideo(rec.handle, r.cfg.EmergencyGrace); err != nil && r.log != nil {
		r.log.WithError(err).Warnf("emergency stop-video failed for session %s, saving whatever was written", rec.rec.SessionID)
	}

	dest := filepath.Join(r.cfg.EmergencyDir, emergencyFileName(rec.rec.SessionID, time.Now()))
	if err := moveFile(rec.rec.TempPath, dest); err != nil {
		if r.log != nil {
			r.log.WithError(err).Errorf("failed to emergency-save recording for session %s", rec.rec.SessionID)
		}
		return
	}

	r.mu.Lock()
	rec.rec.State = model.RecordingEmergencySaved
	delete(r.active, rec.rec.SessionID)
	r.mu.Unlock()

	os.RemoveAll(r.scratchDir(rec.rec.SessionID))
}

func (r *Recorder) scratchDir(sessionID string) string {
	return filepath.Join(r.cfg.ScratchDir, sessionID)
}

func emergencyFileName(sessionID string, t time.Time) string {
	return sessionID + "_" + t.UTC().Format("20060102T150405Z") + ".mp4"
}

// moveFile renames src to dest, falling back to copy+remove across
// filesystem boundaries (temp dirs and the emergency dir may not share a
// device).
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "failed to open source recording", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "failed to create emergency destination", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return apperr.Wrap(apperr.KindIO, "failed to copy recording to emergency destination", err)
	}
	os.Remove(src)
	return nil
}
