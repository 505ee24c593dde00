package connmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
)

func testConfig() Config {
	return Config{
		MaxPerSession:   3,
		MaxPerMinute:    5,
		RateLimitWindow: time.Minute,
		ReapInterval:    time.Hour,
	}
}

func TestTryRegisterRejectsInvalidSession(t *testing.T) {
	m := New(testConfig(), nil)
	_, err := m.TryRegister(context.Background(), "sess-1", "1.2.3.4", KindVideo, NewHandle(), false)
	require.Error(t, err)
	assert.Equal(t, apperr.KindSessionInvalid, apperr.KindOf(err))
}

func TestTryRegisterEnforcesPerSessionCap(t *testing.T) {
	m := New(testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.TryRegister(ctx, "sess-1", "1.2.3.4", KindVideo, NewHandle(), true)
		require.NoError(t, err)
	}

	_, err := m.TryRegister(ctx, "sess-1", "1.2.3.4", KindVideo, NewHandle(), true)
	require.Error(t, err)
	assert.Equal(t, apperr.KindCapExceeded, apperr.KindOf(err))
}

func TestTryRegisterEnforcesRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerSession = 100
	cfg.MaxPerMinute = 2
	m := New(cfg, nil)
	ctx := context.Background()

	_, err := m.TryRegister(ctx, "sess-1", "1.2.3.4", KindVideo, NewHandle(), true)
	require.NoError(t, err)
	_, err = m.TryRegister(ctx, "sess-1", "1.2.3.4", KindVideo, NewHandle(), true)
	require.NoError(t, err)

	_, err = m.TryRegister(ctx, "sess-1", "1.2.3.4", KindVideo, NewHandle(), true)
	require.Error(t, err)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
}

func TestUnregisterFreesCapacity(t *testing.T) {
	m := New(testConfig(), nil)
	ctx := context.Background()

	id, err := m.TryRegister(ctx, "sess-1", "1.2.3.4", KindVideo, NewHandle(), true)
	require.NoError(t, err)

	m.Unregister(id)

	stats := m.Stats()
	assert.Equal(t, 0, stats.TotalConnections)
}

func TestScopedRegisterReleasesOnDefer(t *testing.T) {
	m := New(testConfig(), nil)
	ctx := context.Background()

	func() {
		release, err := m.ScopedRegister(ctx, "sess-1", "1.2.3.4", KindControl, NewHandle(), true)
		require.NoError(t, err)
		defer release()
		assert.Equal(t, 1, m.Stats().TotalConnections)
	}()

	assert.Equal(t, 0, m.Stats().TotalConnections)
}

func TestReaperRemovesClosedHandles(t *testing.T) {
	m := New(testConfig(), nil)
	ctx := context.Background()

	h := NewHandle()
	_, err := m.TryRegister(ctx, "sess-1", "1.2.3.4", KindVideo, h, true)
	require.NoError(t, err)

	h.MarkClosed()
	m.reapOnce()

	assert.Equal(t, 0, m.Stats().TotalConnections)
}

func TestReaperLeavesOpenHandles(t *testing.T) {
	m := New(testConfig(), nil)
	ctx := context.Background()

	h := NewHandle()
	_, err := m.TryRegister(ctx, "sess-1", "1.2.3.4", KindVideo, h, true)
	require.NoError(t, err)

	m.reapOnce()

	assert.Equal(t, 1, m.Stats().TotalConnections)
}
