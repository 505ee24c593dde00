package ws

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/AutoFlowLabs/ios-bridge/internal/capture"
	"github.com/AutoFlowLabs/ios-bridge/internal/connmgr"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

// frameMessage is the outbound video_frame payload (spec.md §4.7.2/§4.7.3).
type frameMessage struct {
	Type        string  `json:"type"`
	Data        string  `json:"data"`
	PixelWidth  int     `json:"pixel_width"`
	PixelHeight int     `json:"pixel_height"`
	PointWidth  int     `json:"point_width"`
	PointHeight int     `json:"point_height"`
	Frame       uint64  `json:"frame"`
	Timestamp   int64   `json:"timestamp"`
	FPS         float64 `json:"fps"`
	Format      string  `json:"format"`
}

// qualityMessage is the inbound quality/fps change payload.
type qualityMessage struct {
	Type    string `json:"type"`
	Quality string `json:"quality"`
	FPS     int    `json:"fps"`
}

// handleVideo serves both /video (frame-push) and /ultra-low-latency,
// distinguished only by which ring they drain, which connmgr.Kind they
// register under, and which of the two configured frame-pop timeouts
// bounds their blocking read (spec.md §4.4: "≤ 50ms standard, ≤ 1ms
// ultra-low-latency" — two different values specifically so the
// ultra-low-latency transport stays low-latency).
func (d Deps) handleVideo(w http.ResponseWriter, r *http.Request, sessionID string, captureKind capture.Kind, connKind connmgr.Kind) {
	if !d.authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	handle := connmgr.NewHandle()
	udid, release, err := d.resolveAndRegister(r.Context(), sessionID, r.RemoteAddr, connKind, handle)
	if err != nil {
		rejectRegistration(conn, err)
		return
	}
	defer release()
	defer handle.MarkClosed()

	clientID := newClientID()
	dims := capture.Dimensions{}
	if sess, err := d.Sessions.Get(sessionID); err == nil && sess != nil {
		dims = capture.Dimensions{
			PointWidth:  sess.PointWidth,
			PointHeight: sess.PointHeight,
			PixelWidth:  sess.PixelWidth,
			PixelHeight: sess.PixelHeight,
		}
	}
	svc, err := d.acquire(udid, clientID, captureKind, dims)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": "internal", "reason": err.Error()})
		_ = conn.Close()
		return
	}
	defer d.Resources.ReleaseVideo(udid, clientID)

	popTimeout := d.popTimeoutFor(captureKind)

	sess := newWSSession(sessionID, conn, d.WSCfg, d.Log)
	sess.startTimers()
	conn.SetPongHandler(sess.pongHandler())
	defer sess.close(4000, "video stream ended")

	go d.readControlMessages(sess, udid)

	var lastSeq uint64
	lastSent := time.Now()
	for {
		select {
		case <-sess.ctx.Done():
			return
		default:
		}

		frame, ok := svc.Frame(captureKind, lastSeq, popTimeout)
		if !ok {
			continue
		}
		lastSeq = frame.Sequence

		// Slow-consumer backpressure: if we've fallen more than two
		// frame-intervals behind wall clock, skip straight to the newest
		// frame instead of draining the backlog one at a time.
		if time.Since(lastSent) > 2*popTimeout {
			if newer, ok := svc.Frame(captureKind, lastSeq, 0); ok {
				frame, lastSeq = newer, newer.Sequence
			}
		}

		msg := frameMessage{
			Type:        "video_frame",
			Data:        base64.StdEncoding.EncodeToString(frame.Payload),
			PixelWidth:  frame.PixelWidth,
			PixelHeight: frame.PixelHeight,
			PointWidth:  frame.PointWidth,
			PointHeight: frame.PointHeight,
			Frame:       frame.Sequence,
			Timestamp:   frame.CapturedAt.UnixMilli(),
			FPS:         1.0 / time.Since(lastSent).Seconds(),
			Format:      "jpeg",
		}
		lastSent = time.Now()

		if err := sess.writeJSON(msg); err != nil {
			return
		}
	}
}

func (d Deps) acquire(udid, clientID string, kind capture.Kind, dims capture.Dimensions) (*capture.Service, error) {
	if kind == capture.KindUltraLowLatency {
		return d.Resources.GetUltraLowLatency(udid, clientID, dims)
	}
	return d.Resources.GetVideo(udid, clientID, dims)
}

// popTimeoutFor returns the configured blocking-read bound for kind
// (spec.md §4.4/§4.7.3); ultra-low-latency gets its own much tighter
// timeout than the standard frame-push transport.
func (d Deps) popTimeoutFor(kind capture.Kind) time.Duration {
	if kind == capture.KindUltraLowLatency {
		return d.UltraPopTimeout
	}
	return d.FramePopTimeout
}

// readControlMessages drains inbound quality/fps-change requests for as
// long as the session is alive. Frame delivery never blocks on this.
func (d Deps) readControlMessages(sess *wsSession, udid string) {
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			sess.cancel()
			return
		}
		sess.updateActivity()

		var msg qualityMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "quality-change":
			if model.ValidQuality(msg.Quality) {
				d.Resources.SetQuality(udid, model.Quality(msg.Quality))
			}
		case "fps-change":
			// Target FPS is derived from the quality preset, not set
			// independently; fps-change requests are honored by mapping
			// to a quality preset through qualityFromFPS.
			d.Resources.SetQuality(udid, qualityFromFPS(msg.FPS))
		}
	}
}

// qualityFromFPS maps a requested frame rate to the lowest quality preset
// whose target FPS reaches it (low 45, medium 60, high 75; ultra above 75),
// since the capture worker only exposes quality-level control.
func qualityFromFPS(fps int) model.Quality {
	switch {
	case fps <= 45:
		return model.QualityLow
	case fps <= 60:
		return model.QualityMedium
	case fps <= 75:
		return model.QualityHigh
	default:
		return model.QualityUltra
	}
}
