package eventbus

import (
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Config mirrors config.EventBusConfig's shape locally so this package
// doesn't import config (which would create a cycle once config grows
// event-bus-specific validation helpers).
type Config struct {
	Type  string
	Redis RedisSettings
	Kafka KafkaSettings
}

type RedisSettings struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

type KafkaSettings struct {
	Brokers []string
	GroupID string
	Topic   string
}

// New constructs the configured Broker, or (nil, nil) for "none" — the
// degraded, file-only mode SPEC_FULL.md §4.9 describes.
func New(cfg Config, log *logrus.Entry) (Broker, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "none":
		return nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisBroker(client, log), nil
	case "kafka":
		return NewKafkaBroker(cfg.Kafka.Brokers, cfg.Kafka.GroupID, log)
	default:
		return nil, fmt.Errorf("unknown event bus type: %s", cfg.Type)
	}
}
