// Package ws implements the six WebSocket endpoints (spec.md §4.7):
// control, frame-push video, ultra-low-latency video, WebRTC signaling,
// screenshot and logs. Every endpoint shares one connection lifecycle —
// ping/activity timers and a retrying JSON writer — modeled on the
// teacher's client session.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/config"
)

const websocketRetryDelay = 200 * time.Millisecond

// wsSession wraps one upgraded connection with the ping/activity discipline
// every endpoint needs, regardless of what it streams.
type wsSession struct {
	id   string
	conn *websocket.Conn
	cfg  config.WebSocketConfig
	log  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	pingTicker    *time.Ticker
	activityTimer *time.Timer
}

func newWSSession(id string, conn *websocket.Conn, cfg config.WebSocketConfig, log *logrus.Entry) *wsSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsSession{id: id, conn: conn, cfg: cfg, log: log, ctx: ctx, cancel: cancel}
}

func (s *wsSession) startTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activityTimer = time.AfterFunc(
		time.Duration(s.cfg.ActivityTimeoutSecs)*time.Second,
		s.onActivityTimeout,
	)
	s.pingTicker = time.NewTicker(time.Duration(s.cfg.PingIntervalSecs) * time.Second)
	go s.pingLoop()
}

func (s *wsSession) pingLoop() {
	defer s.pingTicker.Stop()
	for {
		select {
		case <-s.pingTicker.C:
			if err := s.sendPing(); err != nil {
				s.close(websocket.CloseInternalServerErr, "ping failure")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *wsSession) sendPing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(
		websocket.PingMessage, []byte{},
		time.Now().Add(time.Duration(s.cfg.WriteTimeoutSecs)*time.Second),
	)
}

func (s *wsSession) updateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activityTimer != nil {
		s.activityTimer.Stop()
		s.activityTimer = time.AfterFunc(
			time.Duration(s.cfg.ActivityTimeoutSecs)*time.Second,
			s.onActivityTimeout,
		)
	}
}

func (s *wsSession) pongHandler() func(string) error {
	return func(string) error {
		if s.cfg.KeepAlive {
			s.updateActivity()
		}
		return nil
	}
}

func (s *wsSession) onActivityTimeout() {
	if s.log != nil {
		s.log.Infof("connection %s timed out for inactivity", s.id)
	}
	s.close(websocket.ClosePolicyViolation, "inactivity timeout")
}

// writeJSON writes v with constant-backoff retry, mirroring the teacher's
// SafeWriteJSON.
func (s *wsSession) writeJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	operation := func() error {
		return s.conn.WriteJSON(v)
	}
	strategy := backoff.WithContext(backoff.NewConstantBackOff(websocketRetryDelay), s.ctx)
	return backoff.RetryNotify(operation, strategy, func(err error, d time.Duration) {
		if s.log != nil {
			s.log.WithError(err).Warnf("retrying websocket write for %s in %s", s.id, d)
		}
	})
}

func (s *wsSession) close(code int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pingTicker != nil {
		s.pingTicker.Stop()
	}
	if s.activityTimer != nil {
		s.activityTimer.Stop()
	}
	s.cancel()

	deadline := time.Now().Add(time.Duration(s.cfg.WriteTimeoutSecs) * time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	_ = s.conn.Close()
}

// sessionInvalidCloseCode is spec.md §7's distinct close code for a
// session that no longer exists.
const sessionInvalidCloseCode = 4004
