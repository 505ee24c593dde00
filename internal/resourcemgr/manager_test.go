package resourcemgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutoFlowLabs/ios-bridge/internal/capture"
	"github.com/AutoFlowLabs/ios-bridge/internal/model"
)

type fakeDriver struct{}

func (fakeDriver) Screenshot(ctx context.Context, udid, format string) ([]byte, error) {
	return []byte("frame"), nil
}

func testConfig() Config {
	return Config{
		MaxMemoryMB:         1024,
		MemoryCheckInterval: time.Hour, // tests drive loops manually
		ServiceIdleTimeout:  5 * time.Minute,
		Capture: capture.Config{
			FramePushQueueSize:       3,
			UltraLowLatencyQueueSize: 1,
			WebRTCQueueSize:          2,
		},
	}
}

func TestGetVideoCreatesAndReusesService(t *testing.T) {
	m := New(fakeDriver{}, testConfig(), nil)
	defer m.CleanupAll()

	svc1, err := m.GetVideo("udid-1", "client-1", capture.Dimensions{})
	require.NoError(t, err)

	svc2, err := m.GetVideo("udid-1", "client-2", capture.Dimensions{})
	require.NoError(t, err)

	assert.Same(t, svc1, svc2)
	assert.Equal(t, 2, svc1.ClientCount())
}

func TestGetVideoSeedsServiceDimensionsOnFirstAcquire(t *testing.T) {
	m := New(fakeDriver{}, testConfig(), nil)
	defer m.CleanupAll()

	dims := capture.Dimensions{PointWidth: 390, PointHeight: 844, PixelWidth: 1170, PixelHeight: 2532}
	svc, err := m.GetVideo("udid-1", "client-1", dims)
	require.NoError(t, err)
	svc.SetQuality(model.QualityUltra)

	frame, ok := svc.Frame(capture.KindFramePush, 0, time.Second)
	require.True(t, ok)
	assert.Equal(t, dims.PointWidth, frame.PointWidth)
	assert.Equal(t, dims.PointHeight, frame.PointHeight)

	// A second acquire for the same device must not reset the already
	// pooled service's dimensions.
	svc2, err := m.GetVideo("udid-1", "client-2", capture.Dimensions{PointWidth: 1})
	require.NoError(t, err)
	assert.Same(t, svc, svc2)
}

func TestDetachDeviceRemovesFromPool(t *testing.T) {
	m := New(fakeDriver{}, testConfig(), nil)
	_, err := m.GetVideo("udid-1", "client-1", capture.Dimensions{})
	require.NoError(t, err)

	m.DetachDevice("udid-1")

	stats := m.Stats()
	assert.Equal(t, 0, stats.ServiceCount)
}

func TestEmergencyCleanupNeverClosesServiceWithClients(t *testing.T) {
	m := New(fakeDriver{}, testConfig(), nil)
	defer m.CleanupAll()

	_, err := m.GetVideo("udid-busy", "client-1", capture.Dimensions{})
	require.NoError(t, err)
	_, err = m.GetVideo("udid-idle", "client-2", capture.Dimensions{})
	require.NoError(t, err)
	m.ReleaseVideo("udid-idle", "client-2")

	m.emergencyCleanup()

	stats := m.Stats()
	assert.Equal(t, 1, stats.ServiceCount)

	_, err = m.GetVideo("udid-busy", "client-1", capture.Dimensions{})
	require.NoError(t, err)
}

func TestIdleEvictionClosesOnlyZeroClientServices(t *testing.T) {
	m := New(fakeDriver{}, testConfig(), nil)
	defer m.CleanupAll()

	_, _ = m.GetVideo("udid-busy", "client-1", capture.Dimensions{})
	_, _ = m.GetVideo("udid-idle", "client-2", capture.Dimensions{})
	m.ReleaseVideo("udid-idle", "client-2")

	m.idleEviction()

	assert.Equal(t, 1, m.Stats().ServiceCount)
}
