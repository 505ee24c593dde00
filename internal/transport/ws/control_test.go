package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutoFlowLabs/ios-bridge/internal/config"
	"github.com/AutoFlowLabs/ios-bridge/internal/connmgr"
)

func testDeps(resolver *fakeSessionResolver, driver *fakeHostDriver) Deps {
	return Deps{
		Sessions: resolver,
		Driver:   driver,
		Connections: connmgr.New(connmgr.Config{
			MaxPerSession:   10,
			MaxPerMinute:    100,
			RateLimitWindow: time.Minute,
			ReapInterval:    time.Minute,
		}, nil),
		AuthCfg: config.AuthConfig{Enabled: false},
		WSCfg: config.WebSocketConfig{
			PingIntervalSecs:    30,
			ActivityTimeoutSecs: 30,
			WriteTimeoutSecs:    5,
			KeepAlive:           true,
		},
		FramePopTimeout: 50 * time.Millisecond,
		UltraPopTimeout: time.Millisecond,
		Log:             logrus.NewEntry(logrus.New()),
	}
}

func testServer(t *testing.T, d Deps) (*httptest.Server, string) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, d)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func TestHandleControlDispatchesTap(t *testing.T) {
	resolver := &fakeSessionResolver{udids: map[string]string{"sess-1": "udid-1"}}
	driver := &fakeHostDriver{}
	_, wsURL := testServer(t, testDeps(resolver, driver))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/control", nil)
	require.NoError(t, err)
	defer conn.Close()

	err = conn.WriteJSON(map[string]interface{}{"t": "tap", "x": 12.5, "y": 34.0})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return driver.tapCount() == 1 }, time.Second, 10*time.Millisecond)
	tap := driver.lastTap()
	assert.Equal(t, "udid-1", tap.udid)
	assert.Equal(t, 12.5, tap.x)
	assert.Equal(t, 34.0, tap.y)
}

func TestHandleControlMalformedMessageReportsErrorWithoutClosing(t *testing.T) {
	resolver := &fakeSessionResolver{udids: map[string]string{"sess-1": "udid-1"}}
	driver := &fakeHostDriver{}
	_, wsURL := testServer(t, testDeps(resolver, driver))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/control", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	var resp map[string]string
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "protocol", resp["error"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"t": "tap", "x": 1.0, "y": 2.0}))
	require.Eventually(t, func() bool { return driver.tapCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandleControlCapExceededReportsErrorFrameWithoutSessionInvalidClose(t *testing.T) {
	resolver := &fakeSessionResolver{udids: map[string]string{"sess-1": "udid-1"}}
	driver := &fakeHostDriver{}
	d := testDeps(resolver, driver)
	d.Connections = connmgr.New(connmgr.Config{
		MaxPerSession:   1,
		MaxPerMinute:    100,
		RateLimitWindow: time.Minute,
		ReapInterval:    time.Minute,
	}, nil)
	_, wsURL := testServer(t, d)

	first, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/control", nil)
	require.NoError(t, err)
	defer first.Close()

	second, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/control", nil)
	require.NoError(t, err)
	defer second.Close()

	var resp map[string]string
	second.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, second.ReadJSON(&resp))
	assert.Equal(t, "cap-exceeded", resp["error"])

	// the error frame is followed by the server's normal close, not a 4004
	// close — a further read sees that close (or times out), never a
	// CloseError with sessionInvalidCloseCode.
	_, _, err = second.ReadMessage()
	if closeErr, ok := err.(*websocket.CloseError); ok {
		assert.NotEqual(t, sessionInvalidCloseCode, closeErr.Code)
	}
}

func TestHandleControlUnknownSessionClosesWithSessionInvalidCode(t *testing.T) {
	resolver := &fakeSessionResolver{udids: map[string]string{}}
	driver := &fakeHostDriver{}
	_, wsURL := testServer(t, testDeps(resolver, driver))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/missing/control", nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	assert.Equal(t, sessionInvalidCloseCode, closeErr.Code)
}
