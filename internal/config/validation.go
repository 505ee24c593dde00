package config

import (
	"errors"
	"fmt"
	"strings"
)

var validQualities = map[string]bool{
	"low": true, "medium": true, "high": true, "ultra": true,
}

func (c *AppConfig) Validate() error {
	if c.Server.BindPort < 1 || c.Server.BindPort > 65535 {
		return errors.New("invalid server bind port")
	}

	if c.State.Dir == "" {
		return errors.New("state.dir must be set")
	}

	if c.HostDriver.Binary == "" {
		return errors.New("hostdriver.binary must be set")
	}
	if c.State.BackupRetentionCount < 1 {
		return errors.New("state.backupRetentionCount must be at least 1")
	}

	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "default-secret" {
			return errors.New("auth.jwtSecret must be set to a strong secret when auth is enabled")
		}
		if c.Auth.TokenQueryParam == "" {
			return errors.New("auth.tokenQueryParam must be configured when auth is enabled")
		}
	}

	switch strings.ToLower(c.EventBus.Type) {
	case "none":
		// degraded mode: no shared event fan-out.
	case "redis":
		if c.EventBus.Redis.Address == "" {
			return errors.New("eventbus.redis.address must be specified for redis event bus")
		}
		if c.EventBus.Redis.Channel == "" {
			return errors.New("eventbus.redis.channel must be configured for redis event bus")
		}
	case "kafka":
		if len(c.EventBus.Kafka.Brokers) == 0 {
			return errors.New("eventbus.kafka.brokers must be specified for kafka event bus")
		}
		if c.EventBus.Kafka.GroupID == "" {
			return errors.New("eventbus.kafka.groupID must be specified for kafka event bus")
		}
	default:
		return fmt.Errorf("invalid event bus type: %s. Must be 'none', 'redis' or 'kafka'", c.EventBus.Type)
	}

	if c.Connection.MaxPerSession < 1 {
		return errors.New("connection.maxPerSession must be positive")
	}
	if c.Connection.MaxPerMinute < 1 {
		return errors.New("connection.maxPerMinute must be positive")
	}
	if c.Connection.RateLimitWindowSecs < 1 {
		return errors.New("connection.rateLimitWindowSecs must be positive")
	}

	if c.Resource.MaxMemoryMB < 1 {
		return errors.New("resource.maxMemoryMB must be positive")
	}
	if c.Resource.MemoryCheckIntervalSecs < 1 {
		return errors.New("resource.memoryCheckIntervalSecs must be positive")
	}
	if c.Resource.ServiceIdleTimeoutSecs < 1 {
		return errors.New("resource.serviceIdleTimeoutSecs must be positive")
	}

	if !validQualities[strings.ToLower(c.Capture.DefaultQuality)] {
		return fmt.Errorf("invalid capture.defaultQuality: %s", c.Capture.DefaultQuality)
	}
	if c.Capture.DefaultFPS < 1 {
		return errors.New("capture.defaultFPS must be positive")
	}
	if c.Capture.FramePushQueueSize < 1 || c.Capture.UltraLowLatencyQueueSize < 1 || c.Capture.WebRTCQueueSize < 1 {
		return errors.New("capture queue sizes must be positive")
	}
	if c.Capture.ConsumerPopTimeoutMS < 1 || c.Capture.UltraLowLatencyPopTimeoutMS < 1 {
		return errors.New("capture pop timeouts must be positive")
	}

	if c.Recording.EmergencyMaxAgeDays < 1 {
		return errors.New("recording.emergencyMaxAgeDays must be positive")
	}
	if c.Recording.StopGraceSecs < 1 || c.Recording.EmergencyGraceSecs < 1 {
		return errors.New("recording grace periods must be positive")
	}

	if c.WebSocket.PingIntervalSecs < 1 || c.WebSocket.ActivityTimeoutSecs < 1 || c.WebSocket.WriteTimeoutSecs < 1 {
		return errors.New("websocket timers must be positive")
	}

	return nil
}
