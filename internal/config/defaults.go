package config

import "github.com/spf13/viper"

func setDefaults() {
	// Server
	viper.SetDefault("server.bindhost", "0.0.0.0")
	viper.SetDefault("server.bindport", 8080)

	// State / persistence
	viper.SetDefault("state.dir", "./state")
	viper.SetDefault("state.backupretentioncount", 5)
	viper.SetDefault("state.connectioncleanupsecs", 30)

	// Connection manager
	viper.SetDefault("connection.maxpersession", 10)
	viper.SetDefault("connection.maxperminute", 20)
	viper.SetDefault("connection.ratelimitwindowsecs", 60)

	// Resource manager
	viper.SetDefault("resource.maxmemorymb", 2048)
	viper.SetDefault("resource.memorycheckintervalsecs", 30)
	viper.SetDefault("resource.serviceidletimeoutsecs", 300)

	// Capture defaults
	viper.SetDefault("capture.defaultquality", "medium")
	viper.SetDefault("capture.defaultfps", 60)
	viper.SetDefault("capture.framepushqueuesize", 3)
	viper.SetDefault("capture.ultralowlatencyqueuesize", 1)
	viper.SetDefault("capture.webrtcqueuesize", 2)
	viper.SetDefault("capture.consumerpoptimeoutms", 50)
	viper.SetDefault("capture.ultralowlatencypoptimeoutms", 1)

	// Recording
	viper.SetDefault("recording.emergencymaxagedays", 7)
	viper.SetDefault("recording.stopgracesecs", 10)
	viper.SetDefault("recording.emergencygracesecs", 3)

	// Auth
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "default-secret")
	viper.SetDefault("auth.tokenqueryparam", "token")
	viper.SetDefault("auth.revocationlistkey", "jwt:revoked")
	viper.SetDefault("auth.redisaddress", "")

	// Event bus
	viper.SetDefault("eventbus.type", "none")
	viper.SetDefault("eventbus.redis.address", "localhost:6379")
	viper.SetDefault("eventbus.redis.db", 0)
	viper.SetDefault("eventbus.redis.channel", "ios-bridge:events")
	viper.SetDefault("eventbus.kafka.groupid", "ios-bridge")
	viper.SetDefault("eventbus.kafka.topic", "ios-bridge-events")

	// Metrics
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")

	// WebSocket connection timers
	viper.SetDefault("websocket.pingintervalsecs", 15)
	viper.SetDefault("websocket.activitytimeoutsecs", 60)
	viper.SetDefault("websocket.writetimeoutsecs", 10)
	viper.SetDefault("websocket.keepalive", true)

	// Host driver
	viper.SetDefault("hostdriver.binary", "xcrun")
}

func bindEnvVars() {
	viper.BindEnv("server.bindhost", "IOSBRIDGE_BIND_HOST")
	viper.BindEnv("server.bindport", "IOSBRIDGE_BIND_PORT")

	viper.BindEnv("state.dir", "IOSBRIDGE_STATE_DIR")
	viper.BindEnv("state.backupretentioncount", "IOSBRIDGE_BACKUP_RETENTION_COUNT")

	viper.BindEnv("connection.maxpersession", "IOSBRIDGE_MAX_CONNECTIONS_PER_SESSION")
	viper.BindEnv("connection.maxperminute", "IOSBRIDGE_MAX_CONNECTIONS_PER_MINUTE")
	viper.BindEnv("connection.ratelimitwindowsecs", "IOSBRIDGE_RATE_LIMIT_WINDOW_SECONDS")

	viper.BindEnv("resource.maxmemorymb", "IOSBRIDGE_MAX_MEMORY_MB")
	viper.BindEnv("resource.memorycheckintervalsecs", "IOSBRIDGE_MEMORY_CHECK_INTERVAL")
	viper.BindEnv("resource.serviceidletimeoutsecs", "IOSBRIDGE_SERVICE_IDLE_TIMEOUT")

	viper.BindEnv("capture.defaultquality", "IOSBRIDGE_DEFAULT_QUALITY")
	viper.BindEnv("capture.defaultfps", "IOSBRIDGE_DEFAULT_FPS")

	viper.BindEnv("auth.enabled", "IOSBRIDGE_AUTH_ENABLED")
	viper.BindEnv("auth.jwtsecret", "IOSBRIDGE_AUTH_JWT_SECRET")
	viper.BindEnv("auth.tokenqueryparam", "IOSBRIDGE_AUTH_TOKEN_PARAM")
	viper.BindEnv("auth.revocationlistkey", "IOSBRIDGE_AUTH_REVOCATION_KEY")

	viper.BindEnv("eventbus.type", "IOSBRIDGE_EVENTBUS_TYPE")
	viper.BindEnv("eventbus.redis.address", "IOSBRIDGE_REDIS_ADDRESS")
	viper.BindEnv("eventbus.redis.password", "IOSBRIDGE_REDIS_PASSWORD")
	viper.BindEnv("eventbus.kafka.brokers", "IOSBRIDGE_KAFKA_BROKERS")
	viper.BindEnv("eventbus.kafka.groupid", "IOSBRIDGE_KAFKA_GROUPID")
}
