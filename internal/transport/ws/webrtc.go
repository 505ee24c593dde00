package ws

import (
	"encoding/json"
	"net/http"

	"github.com/pion/webrtc/v3"

	"github.com/AutoFlowLabs/ios-bridge/internal/capture"
	"github.com/AutoFlowLabs/ios-bridge/internal/connmgr"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

// webrtcMessage is the tagged signaling envelope for /ws/:session/webrtc
// (spec.md §4.7.4).
type webrtcMessage struct {
	Type      string                  `json:"type"`
	SDP       string                  `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Quality   string                  `json:"quality,omitempty"`
	FPS       int                     `json:"fps,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
}

func (d Deps) handleWebRTC(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !d.authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	handle := connmgr.NewHandle()
	udid, release, err := d.resolveAndRegister(r.Context(), sessionID, r.RemoteAddr, connmgr.KindWebRTC, handle)
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
	svc, err := d.Resources.GetWebRTC(udid, dims)
	if err != nil {
		_ = conn.WriteJSON(webrtcMessage{Type: "error", Reason: err.Error()})
		_ = conn.Close()
		return
	}
	defer d.Resources.ReleaseWebRTC(udid, clientID)

	sess := newWSSession(sessionID, conn, d.WSCfg, d.Log)
	sess.startTimers()
	conn.SetPongHandler(sess.pongHandler())
	defer sess.close(4000, "webrtc signaling ended")

	started := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.updateActivity()

		var msg webrtcMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			sess.writeJSON(webrtcMessage{Type: "error", Reason: "malformed message"})
			continue
		}

		switch msg.Type {
		case "start-stream":
			started = true
			if model.ValidQuality(msg.Quality) {
				d.Resources.SetQuality(udid, model.Quality(msg.Quality))
			} else if msg.FPS > 0 {
				d.Resources.SetQuality(udid, qualityFromFPS(msg.FPS))
			}
			sess.writeJSON(webrtcMessage{Type: "stream-ready"})

		case "offer":
			if msg.SDP == "" {
				sess.writeJSON(webrtcMessage{Type: "error", Reason: "offer requires sdp"})
				continue
			}
			started = true
			answerSDP, err := svc.Offer(sess.ctx, clientID, msg.SDP)
			if err != nil {
				sess.writeJSON(webrtcMessage{Type: "error", Reason: err.Error()})
				continue
			}
			sess.writeJSON(webrtcMessage{Type: "answer", SDP: answerSDP})

		case "ice-candidate":
			if msg.Candidate == nil {
				continue
			}
			if err := svc.AddICECandidate(clientID, *msg.Candidate); err != nil {
				sess.writeJSON(webrtcMessage{Type: "error", Reason: err.Error()})
			}

		case "quality-change":
			if started && model.ValidQuality(msg.Quality) {
				d.Resources.SetQuality(udid, model.Quality(msg.Quality))
			}

		case "fps-change":
			if started {
				d.Resources.SetQuality(udid, qualityFromFPS(msg.FPS))
			}

		default:
			sess.writeJSON(webrtcMessage{Type: "error", Reason: "unknown message type: " + msg.Type})
		}
	}
}
