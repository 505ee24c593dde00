package ws

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutoFlowLabs/ios-bridge/internal/capture"
	"github.com/AutoFlowLabs/ios-bridge/internal/connmgr"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
	"github.com/AutoFlowLabs/ios-bridge/internal/resourcemgr"
)

func videoTestDeps(resolver *fakeSessionResolver, driver *fakeHostDriver) (Deps, *resourcemgr.Manager) {
	d := testDeps(resolver, driver)
	res := resourcemgr.New(driver, resourcemgr.Config{
		MaxMemoryMB:         1024,
		MemoryCheckInterval: time.Minute,
		ServiceIdleTimeout:  time.Minute,
		Capture: capture.Config{
			FramePushQueueSize:       3,
			UltraLowLatencyQueueSize: 1,
			WebRTCQueueSize:          2,
		},
	}, nil)
	d.Resources = res
	d.Connections = connmgr.New(connmgr.Config{
		MaxPerSession:   10,
		MaxPerMinute:    100,
		RateLimitWindow: time.Minute,
		ReapInterval:    time.Minute,
	}, nil)
	return d, res
}

func TestHandleVideoStreamsFramesFromCaptureService(t *testing.T) {
	resolver := &fakeSessionResolver{udids: map[string]string{"sess-1": "udid-1"}}
	driver := &fakeHostDriver{screenshotBytes: []byte("frame-bytes")}
	d, res := videoTestDeps(resolver, driver)
	t.Cleanup(res.CleanupAll)
	d.Log = logrus.NewEntry(logrus.New())

	_, wsURL := testServer(t, d)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/video", nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg frameMessage
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, "video_frame", msg.Type)
	assert.Equal(t, "jpeg", msg.Format)
	assert.NotEmpty(t, msg.Data)
}

func TestHandleVideoStampsSessionDimensionsOntoFrame(t *testing.T) {
	resolver := &fakeSessionResolver{
		udids: map[string]string{"sess-1": "udid-1"},
		dims: map[string]model.Session{
			"sess-1": {ID: "sess-1", UDID: "udid-1", PointWidth: 390, PointHeight: 844, PixelWidth: 1170, PixelHeight: 2532},
		},
	}
	driver := &fakeHostDriver{screenshotBytes: []byte("frame-bytes")}
	d, res := videoTestDeps(resolver, driver)
	t.Cleanup(res.CleanupAll)
	d.Log = logrus.NewEntry(logrus.New())

	_, wsURL := testServer(t, d)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/video", nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg frameMessage
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, 390, msg.PointWidth)
	assert.Equal(t, 844, msg.PointHeight)
	// "frame-bytes" isn't a real JPEG, so the service falls back to the raw
	// payload and its seeded native pixel dimensions rather than a resized
	// figure.
	assert.Equal(t, 1170, msg.PixelWidth)
	assert.Equal(t, 2532, msg.PixelHeight)
}

func TestQualityFromFPSMapsToLowestSufficientPreset(t *testing.T) {
	assert.Equal(t, "low", string(qualityFromFPS(30)))
	assert.Equal(t, "medium", string(qualityFromFPS(60)))
	assert.Equal(t, "high", string(qualityFromFPS(70)))
	assert.Equal(t, "ultra", string(qualityFromFPS(120)))
}

func TestPopTimeoutForDiffersByKind(t *testing.T) {
	d := Deps{FramePopTimeout: 50 * time.Millisecond, UltraPopTimeout: time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, d.popTimeoutFor(capture.KindFramePush))
	assert.Equal(t, time.Millisecond, d.popTimeoutFor(capture.KindUltraLowLatency))
}
