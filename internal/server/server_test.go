package server

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/AutoFlowLabs/ios-bridge/internal/config"
)

func testConfig(t *testing.T) *config.AppConfig {
	dir := t.TempDir()
	return &config.AppConfig{
		Server: config.ServerConfig{BindHost: "127.0.0.1", BindPort: 0},
		State: config.StateConfig{
			Dir:                   dir,
			BackupRetentionCount:  3,
			ConnectionCleanupSecs: 30,
		},
		Connection: config.ConnectionConfig{
			MaxPerSession:       5,
			MaxPerMinute:        20,
			RateLimitWindowSecs: 60,
		},
		Resource: config.ResourceConfig{
			MaxMemoryMB:             1024,
			MemoryCheckIntervalSecs: 30,
			ServiceIdleTimeoutSecs:  300,
		},
		Capture: config.CaptureConfig{
			DefaultQuality:              "medium",
			DefaultFPS:                  60,
			FramePushQueueSize:          3,
			UltraLowLatencyQueueSize:    1,
			WebRTCQueueSize:             2,
			ConsumerPopTimeoutMS:        50,
			UltraLowLatencyPopTimeoutMS: 1,
		},
		Recording: config.RecordingConfig{
			EmergencyMaxAgeDays: 7,
			StopGraceSecs:       10,
			EmergencyGraceSecs:  3,
		},
		Auth: config.AuthConfig{Enabled: false},
		EventBus: config.EventBusConfig{
			Type: "none",
		},
		Metrics: config.MetricsConfig{Enabled: false, Port: 9090, Path: "/metrics"},
		WebSocket: config.WebSocketConfig{
			PingIntervalSecs:    15,
			ActivityTimeoutSecs: 60,
			WriteTimeoutSecs:    10,
			KeepAlive:           true,
		},
		HostDriver: config.HostDriverConfig{Binary: "echo"},
	}
}

func TestNewConstructsEveryComponent(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	srv, err := New(testConfig(t), log)
	require.NoError(t, err)
	require.NotNil(t, srv)

	stats := srv.stats()
	require.Equal(t, 0, stats.SessionCount)
	require.False(t, stats.EventBusHealthy)
}

func TestStartThenShutdownIsClean(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	srv, err := New(testConfig(t), log)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))
	srv.Shutdown(ctx)
}
