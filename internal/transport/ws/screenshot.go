package ws

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/AutoFlowLabs/ios-bridge/internal/connmgr"
)

// screenshotRequest is the single inbound message this endpoint accepts
// (spec.md §4.7.5): a pull-model refresh request.
type screenshotRequest struct {
	Type string `json:"t"`
}

type screenshotMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// handleScreenshot serves a pull-model single-frame endpoint: every inbound
// {"t":"refresh"} triggers one Driver.Screenshot call and one reply. Any
// other message, a tap included, gets a protocol error frame; taps sent on
// the control endpoint do not push a screenshot on this socket either.
func (d Deps) handleScreenshot(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !d.authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	handle := connmgr.NewHandle()
	udid, release, err := d.resolveAndRegister(r.Context(), sessionID, r.RemoteAddr, connmgr.KindScreen, handle)
	if err != nil {
		rejectRegistration(conn, err)
		return
	}
	defer release()
	defer handle.MarkClosed()

	sess := newWSSession(sessionID, conn, d.WSCfg, d.Log)
	sess.startTimers()
	conn.SetPongHandler(sess.pongHandler())
	defer sess.close(4000, "screenshot session ended")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.updateActivity()

		var req screenshotRequest
		if err := json.Unmarshal(raw, &req); err != nil || req.Type != "refresh" {
			sess.writeJSON(map[string]string{"error": "protocol", "reason": "expected a refresh request"})
			continue
		}

		data, err := d.Driver.Screenshot(r.Context(), udid, "png")
		if err != nil {
			sess.writeJSON(map[string]string{"error": "host-driver", "reason": err.Error()})
			continue
		}
		if err := sess.writeJSON(screenshotMessage{
			Type: "screenshot",
			Data: base64.StdEncoding.EncodeToString(data),
		}); err != nil {
			return
		}
	}
}
