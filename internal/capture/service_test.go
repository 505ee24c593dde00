package capture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

type fakeDriver struct {
	data []byte
}

func (f *fakeDriver) Screenshot(ctx context.Context, udid, format string) ([]byte, error) {
	return f.data, nil
}

func testConfig() Config {
	return Config{FramePushQueueSize: 3, UltraLowLatencyQueueSize: 1, WebRTCQueueSize: 2}
}

func TestServiceProducesFrames(t *testing.T) {
	svc := NewService("udid-1", &fakeDriver{data: []byte("jpeg-bytes")}, testConfig(), Dimensions{}, nil, nil)
	defer svc.Stop()

	svc.SetQuality(model.QualityUltra) // fastest FPS, so the test doesn't stall

	frame, ok := svc.Frame(KindFramePush, 0, time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg-bytes"), frame.Payload)
}

func TestAcquireReleaseTracksIdle(t *testing.T) {
	svc := NewService("udid-1", &fakeDriver{data: []byte("x")}, testConfig(), Dimensions{}, nil, nil)
	defer svc.Stop()

	svc.Acquire("client-1", KindFramePush)
	assert.Equal(t, 1, svc.ClientCount())
	assert.Zero(t, svc.IdleFor())

	svc.Release("client-1")
	assert.Equal(t, 0, svc.ClientCount())
	assert.Greater(t, svc.IdleFor(), time.Duration(0))
}

func TestReleaseFiresIdleNotifier(t *testing.T) {
	notified := make(chan string, 1)
	svc := NewService("udid-1", &fakeDriver{data: []byte("x")}, testConfig(), Dimensions{}, func(udid string) {
		notified <- udid
	}, nil)
	defer svc.Stop()

	svc.Acquire("client-1", KindFramePush)
	svc.Release("client-1")

	select {
	case udid := <-notified:
		assert.Equal(t, "udid-1", udid)
	case <-time.After(time.Second):
		t.Fatal("idle notifier was not called")
	}
}

func TestScreenshotLoopResizesAndReencodesPerQualityPreset(t *testing.T) {
	raw := encodeTestJPEG(t, 100, 200)
	dims := Dimensions{PointWidth: 50, PointHeight: 100, PixelWidth: 100, PixelHeight: 200}
	svc := NewService("udid-1", &fakeDriver{data: raw}, testConfig(), dims, nil, nil)
	defer svc.Stop()

	svc.SetQuality(model.QualityLow) // ResolutionFactor 0.60

	frame, ok := svc.Frame(KindFramePush, 0, time.Second)
	require.True(t, ok)

	assert.Equal(t, dims.PointWidth, frame.PointWidth)
	assert.Equal(t, dims.PointHeight, frame.PointHeight)
	assert.Equal(t, 60, frame.PixelWidth)
	assert.Equal(t, 120, frame.PixelHeight)

	decoded, err := jpeg.Decode(bytes.NewReader(frame.Payload))
	require.NoError(t, err)
	assert.Equal(t, 60, decoded.Bounds().Dx())
	assert.Equal(t, 120, decoded.Bounds().Dy())
}

func TestReencodeFallsBackToRawPayloadOnDecodeFailure(t *testing.T) {
	dims := Dimensions{PixelWidth: 100, PixelHeight: 200}
	svc := NewService("udid-1", &fakeDriver{data: []byte("not a jpeg")}, testConfig(), dims, nil, nil)
	defer svc.Stop()

	payload, w, h := svc.reencode([]byte("not a jpeg"), model.PresetFor(model.QualityLow))
	assert.Equal(t, []byte("not a jpeg"), payload)
	assert.Equal(t, dims.PixelWidth, w)
	assert.Equal(t, dims.PixelHeight, h)
}

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestSetQualityIgnoresInvalidValue(t *testing.T) {
	svc := NewService("udid-1", &fakeDriver{data: []byte("x")}, testConfig(), Dimensions{}, nil, nil)
	defer svc.Stop()

	svc.SetQuality(model.QualityHigh)
	svc.SetQuality(model.Quality("bogus"))
	assert.Equal(t, model.QualityHigh, svc.currentQuality())
}

func TestRingDropsOldestWhenFull(t *testing.T) {
	r := newRing(2)
	r.Push(model.Frame{Sequence: 1})
	r.Push(model.Frame{Sequence: 2})
	r.Push(model.Frame{Sequence: 3})

	assert.Equal(t, uint64(1), r.Drops())
	f, ok := r.Pop(0, time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, uint64(3), f.Sequence)
}

func TestRingPopTimesOutWithNoNewFrame(t *testing.T) {
	r := newRing(2)
	r.Push(model.Frame{Sequence: 1})

	_, ok := r.Pop(1, 10*time.Millisecond)
	assert.False(t, ok)
}

func TestNextMethodSkipsDisqualified(t *testing.T) {
	dq := disqualification(0).with(methodStream).with(methodHWEncode)
	m, ok := nextMethod(methodStream, dq)
	require.True(t, ok)
	assert.Equal(t, methodSWEncode, m)
}

func TestNextMethodExhausted(t *testing.T) {
	var dq disqualification
	for m := method(0); m < methodCount; m++ {
		dq = dq.with(m)
	}
	_, ok := nextMethod(methodStream, dq)
	assert.False(t, ok)
}
