package ws

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleScreenshotRefreshReturnsEncodedFrame(t *testing.T) {
	resolver := &fakeSessionResolver{udids: map[string]string{"sess-1": "udid-1"}}
	driver := &fakeHostDriver{screenshotBytes: []byte("png-bytes")}
	_, wsURL := testServer(t, testDeps(resolver, driver))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/screenshot", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"t": "refresh"}))

	var resp screenshotMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))

	assert.Equal(t, "screenshot", resp.Type)
	decoded, err := base64.StdEncoding.DecodeString(resp.Data)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(decoded))
}

func TestHandleScreenshotNonRefreshMessageReportsProtocolError(t *testing.T) {
	resolver := &fakeSessionResolver{udids: map[string]string{"sess-1": "udid-1"}}
	driver := &fakeHostDriver{screenshotBytes: []byte("png-bytes")}
	_, wsURL := testServer(t, testDeps(resolver, driver))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/screenshot", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"t": "ping"}))

	var resp map[string]string
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "protocol", resp["error"])
}
