// Package config loads and validates the control plane's configuration.
// It follows the teacher's pattern: viper defaults, a YAML file, environment
// overrides with a fixed prefix, one validation pass, frozen into a
// package-level singleton built once from main.
package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server     ServerConfig
	State      StateConfig
	Connection ConnectionConfig
	Resource   ResourceConfig
	Capture    CaptureConfig
	Recording  RecordingConfig
	Auth       AuthConfig
	EventBus   EventBusConfig
	Metrics    MetricsConfig
	WebSocket  WebSocketConfig
	HostDriver HostDriverConfig
}

// HostDriverConfig names the CLI entry point the Host Driver shells out to
// (spec.md §4.3). Defaults to "xcrun" (simctl's actual entry point on a real
// macOS host); overridable so a fake binary can stand in under test.
type HostDriverConfig struct {
	Binary string
}

// WebSocketConfig governs the six WebSocket endpoints' connection timers
// (spec.md §4.7), mirroring the teacher's ping/activity/write timeout
// shape.
type WebSocketConfig struct {
	PingIntervalSecs    int
	ActivityTimeoutSecs int
	WriteTimeoutSecs    int
	KeepAlive           bool
}

type ServerConfig struct {
	BindHost string
	BindPort int
}

type StateConfig struct {
	Dir                   string
	BackupRetentionCount  int
	ConnectionCleanupSecs int
}

// ConnectionConfig governs the Connection Manager (spec.md §4.6).
type ConnectionConfig struct {
	MaxPerSession        int
	MaxPerMinute          int
	RateLimitWindowSecs   int
}

// ResourceConfig governs the Resource Manager (spec.md §4.5).
type ResourceConfig struct {
	MaxMemoryMB          int
	MemoryCheckIntervalSecs int
	ServiceIdleTimeoutSecs  int
}

// CaptureConfig carries the default quality/fps used by newly acquired
// capture services (spec.md §6 configuration table).
type CaptureConfig struct {
	DefaultQuality           string
	DefaultFPS               int
	FramePushQueueSize       int
	UltraLowLatencyQueueSize int
	WebRTCQueueSize          int
	ConsumerPopTimeoutMS     int
	UltraLowLatencyPopTimeoutMS int
}

type RecordingConfig struct {
	EmergencyMaxAgeDays int
	StopGraceSecs       int
	EmergencyGraceSecs  int
}

type AuthConfig struct {
	Enabled           bool
	JWTSecret         string
	TokenQueryParam   string
	RevocationListKey string
	RedisAddress      string
}

// EventBusConfig configures the optional session-lifecycle event fan-out.
// Type is "none", "redis" or "kafka"; unset means the server runs in
// degraded (file-only) mode per SPEC_FULL.md §4.9.
type EventBusConfig struct {
	Type  string
	Redis RedisConfig
	Kafka KafkaConfig
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

var (
	instance *AppConfig
	once     sync.Once
)

// Initialize loads the configuration for the given environment exactly
// once. Subsequent calls are no-ops; the returned error from the first call
// is not replayed on later calls, matching the teacher's sync.Once pattern.
func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		viper.SetConfigName(fmt.Sprintf("config.%s", env))
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")

		viper.AutomaticEnv()
		viper.SetEnvPrefix("IOSBRIDGE")

		setDefaults()
		bindEnvVars()

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				initErr = fmt.Errorf("config file error: %w", err)
				return
			}
			// No config file on disk is fine — defaults + env vars carry us.
		}

		var cfg AppConfig
		if err := viper.Unmarshal(&cfg); err != nil {
			initErr = fmt.Errorf("config unmarshal error: %w", err)
			return
		}

		if err := cfg.Validate(); err != nil {
			initErr = fmt.Errorf("config validation failed: %w", err)
			return
		}
		instance = &cfg
	})
	return initErr
}

// Get returns the process-wide configuration. It must only be called after
// Initialize has succeeded.
func Get() *AppConfig {
	return instance
}

// reset clears the singleton; used by tests that need a fresh Initialize.
func reset() {
	instance = nil
	once = sync.Once{}
}
