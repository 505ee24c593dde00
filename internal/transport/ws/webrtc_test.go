package ws

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleWebRTCUnknownMessageTypeReportsError(t *testing.T) {
	resolver := &fakeSessionResolver{udids: map[string]string{"sess-1": "udid-1"}}
	driver := &fakeHostDriver{}
	d, res := videoTestDeps(resolver, driver)
	t.Cleanup(res.CleanupAll)
	d.Log = logrus.NewEntry(logrus.New())

	_, wsURL := testServer(t, d)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/webrtc", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "not-a-real-message"}))

	var resp webrtcMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp.Type)
}

func TestHandleWebRTCStartStreamRepliesStreamReadyWithoutRequiringSDP(t *testing.T) {
	resolver := &fakeSessionResolver{udids: map[string]string{"sess-1": "udid-1"}}
	driver := &fakeHostDriver{}
	d, res := videoTestDeps(resolver, driver)
	t.Cleanup(res.CleanupAll)
	d.Log = logrus.NewEntry(logrus.New())

	_, wsURL := testServer(t, d)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/webrtc", nil)
	require.NoError(t, err)
	defer conn.Close()

	// start-stream per spec.md §4.7.4 carries only quality/fps, no SDP —
	// it must not attempt to negotiate a peer connection.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "start-stream", "quality": "high"}))

	var resp webrtcMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "stream-ready", resp.Type)
}

func TestHandleWebRTCOfferWithoutSDPReportsErrorInsteadOfNegotiating(t *testing.T) {
	resolver := &fakeSessionResolver{udids: map[string]string{"sess-1": "udid-1"}}
	driver := &fakeHostDriver{}
	d, res := videoTestDeps(resolver, driver)
	t.Cleanup(res.CleanupAll)
	d.Log = logrus.NewEntry(logrus.New())

	_, wsURL := testServer(t, d)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/webrtc", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "offer"}))

	var resp webrtcMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp.Type)
	assert.Contains(t, resp.Reason, "sdp")
}

func TestHandleWebRTCIceCandidateWithoutOfferIsIgnored(t *testing.T) {
	resolver := &fakeSessionResolver{udids: map[string]string{"sess-1": "udid-1"}}
	driver := &fakeHostDriver{}
	d, res := videoTestDeps(resolver, driver)
	t.Cleanup(res.CleanupAll)
	d.Log = logrus.NewEntry(logrus.New())

	_, wsURL := testServer(t, d)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/webrtc", nil)
	require.NoError(t, err)
	defer conn.Close()

	// A candidate message with no SDP offered yet carries a nil Candidate
	// field and must be silently dropped rather than panicking or closing.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ice-candidate"}))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "still-alive"}))

	var resp webrtcMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp.Type)
	assert.Contains(t, resp.Reason, "still-alive")
}
