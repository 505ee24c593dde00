package hostdriver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
)

func TestAvailableFailsWhenBinaryNotOnPath(t *testing.T) {
	d := New("definitely-not-a-real-binary-xyz", nil)
	err := d.Available()
	require.Error(t, err)
	assert.Equal(t, apperr.KindHostDriver, apperr.KindOf(err))
}

func TestAvailableSucceedsForRealBinary(t *testing.T) {
	d := New("echo", nil)
	assert.NoError(t, d.Available())
}

func TestDimensionsFor(t *testing.T) {
	d := DimensionsFor("iPhone 15 Pro")
	assert.Equal(t, 393, d.PointWidth)
	assert.Equal(t, 852, d.PointHeight)
	assert.Equal(t, 3, d.Scale)

	unknown := DimensionsFor("Apple TV 4K")
	assert.Equal(t, 3, unknown.Scale)
}

func TestMapState(t *testing.T) {
	assert.Equal(t, "booted", string(mapState("Booted")))
	assert.Equal(t, "unknown", string(mapState("bogus")))
}

func TestWithDeviceLockFailsFastWhenBusy(t *testing.T) {
	d := New("true", nil)
	udid := "udid-busy"

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = d.withDeviceLock(context.Background(), udid, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	start := time.Now()
	err := d.withDeviceLock(context.Background(), udid, func(ctx context.Context) error {
		return nil
	})
	elapsed := time.Since(start)
	close(release)

	require.Error(t, err)
	assert.GreaterOrEqual(t, elapsed, busyWaitTimeout)
}

func TestExtractPlistString(t *testing.T) {
	plist := `<key>CFBundleIdentifier</key><string>com.example.app</string>`
	assert.Equal(t, "com.example.app", extractPlistString(plist, "CFBundleIdentifier"))
	assert.Equal(t, "", extractPlistString(plist, "Missing"))
}
