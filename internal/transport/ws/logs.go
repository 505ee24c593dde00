package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/AutoFlowLabs/ios-bridge/internal/connmgr"
	"github.com/AutoFlowLabs/ios-bridge/internal/hostdriver"
)

// logEntryMessage is the outbound shape for one streamed device log line.
type logEntryMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Process   string `json:"process"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// logFilterMessage is the inbound predicate update (spec.md §4.7.6).
type logFilterMessage struct {
	Type   string `json:"type"`
	Level  string `json:"level"`
	Filter string `json:"filter"`
}

func (d Deps) handleLogs(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !d.authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	handle := connmgr.NewHandle()
	udid, release, err := d.resolveAndRegister(r.Context(), sessionID, r.RemoteAddr, connmgr.KindLogs, handle)
	if err != nil {
		rejectRegistration(conn, err)
		return
	}
	defer release()
	defer handle.MarkClosed()

	sess := newWSSession(sessionID, conn, d.WSCfg, d.Log)
	sess.startTimers()
	conn.SetPongHandler(sess.pongHandler())
	defer sess.close(4000, "log stream ended")

	ctx, cancel := context.WithCancel(sess.ctx)
	defer cancel()

	entries, err := d.Driver.Logs(ctx, udid, true)
	if err != nil {
		sess.writeJSON(map[string]string{"error": "host-driver", "reason": err.Error()})
		return
	}

	filter := newLogFilter()
	go d.readLogFilters(sess, filter)

	for {
		select {
		case <-sess.ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if !filter.allows(entry) {
				continue
			}
			msg := logEntryMessage{
				Type:      "log_entry",
				Timestamp: entry.Timestamp.UnixMilli(),
				Process:   entry.Process,
				Level:     entry.Level,
				Message:   entry.Message,
			}
			if err := sess.writeJSON(msg); err != nil {
				return
			}
		}
	}
}

func (d Deps) readLogFilters(sess *wsSession, filter *logFilter) {
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			sess.cancel()
			return
		}
		sess.updateActivity()

		var msg logFilterMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "filter" {
			continue
		}
		filter.update(msg.Level, msg.Filter)
	}
}

// logFilter is the per-connection predicate applied server-side before a
// log entry is forwarded, updated live by inbound "filter" messages.
type logFilter struct {
	mu     sync.Mutex
	level  string
	substr string
}

func newLogFilter() *logFilter {
	return &logFilter{}
}

func (f *logFilter) update(level, substr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level = strings.ToLower(level)
	f.substr = strings.ToLower(substr)
}

func (f *logFilter) allows(entry hostdriver.LogEntry) bool {
	f.mu.Lock()
	level, substr := f.level, f.substr
	f.mu.Unlock()

	if level != "" && !strings.EqualFold(entry.Level, level) {
		return false
	}
	if substr != "" && !strings.Contains(strings.ToLower(entry.Message), substr) {
		return false
	}
	return true
}
