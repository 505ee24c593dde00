package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
	"github.com/AutoFlowLabs/ios-bridge/internal/connmgr"
	"github.com/AutoFlowLabs/ios-bridge/internal/hostdriver"
)

// controlMessage is the tagged inbound shape for /ws/:session/control
// (spec.md §4.7.1). Fields are a union of every tag's payload.
type controlMessage struct {
	Type string `json:"t"`

	X float64 `json:"x"`
	Y float64 `json:"y"`

	StartX   float64 `json:"start_x"`
	StartY   float64 `json:"start_y"`
	EndX     float64 `json:"end_x"`
	EndY     float64 `json:"end_y"`
	Duration float64 `json:"duration"`

	Button string `json:"button"`
	Key    string `json:"key"`
	Text   string `json:"text"`
}

func (d Deps) handleControl(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !d.authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	handle := connmgr.NewHandle()
	udid, release, err := d.resolveAndRegister(r.Context(), sessionID, r.RemoteAddr, connmgr.KindControl, handle)
	if err != nil {
		rejectRegistration(conn, err)
		return
	}
	defer release()
	defer handle.MarkClosed()

	sess := newWSSession(sessionID, conn, d.WSCfg, d.Log)
	sess.startTimers()
	conn.SetPongHandler(sess.pongHandler())
	defer sess.close(4000, "control loop ended")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.updateActivity()

		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			sess.writeJSON(map[string]string{"error": "protocol", "reason": "malformed message"})
			continue
		}

		if err := d.dispatchControl(r.Context(), udid, msg); err != nil {
			sess.writeJSON(map[string]string{"error": string(apperr.KindOf(err)), "reason": err.Error()})
		}
	}
}

func (d Deps) dispatchControl(ctx context.Context, udid string, msg controlMessage) error {
	switch msg.Type {
	case "tap":
		return d.Driver.Tap(ctx, udid, msg.X, msg.Y)
	case "swipe":
		dur := time.Duration(msg.Duration) * time.Millisecond
		return d.Driver.Swipe(ctx, udid, msg.StartX, msg.StartY, msg.EndX, msg.EndY, dur)
	case "button":
		return d.Driver.Button(ctx, udid, hostdriver.HardwareButton(msg.Button))
	case "key":
		dur := time.Duration(msg.Duration) * time.Millisecond
		return d.Driver.Key(ctx, udid, msg.Key, dur)
	case "text":
		return d.Driver.Text(ctx, udid, msg.Text)
	default:
		return apperr.New(apperr.KindProtocol, "unknown control message type: "+msg.Type)
	}
}

func closeSessionInvalid(conn interface {
	WriteControl(int, []byte, time.Time) error
	Close() error
}) {
	deadline := time.Now().Add(time.Second)
	code := uint16(sessionInvalidCloseCode)
	_ = conn.WriteControl(8 /* CloseMessage */, []byte{byte(code >> 8), byte(code)}, deadline)
	_ = conn.Close()
}
