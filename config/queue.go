package config

import (
	"sync"
	"time"
)

var (
	queueOnce   sync.Once
	queueConfig *QueueConfig
)

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Queue         string
	// MaxDeliveryCount is the delivery attempt ceiling before a message is
	// dead-lettered.
	MaxDeliveryCount int
	// MaxRenewDuration caps how long a single message may stay locked while
	// its job is processed.
	MaxRenewDuration time.Duration
}

func GetQueueConfig() *QueueConfig {
	queueOnce.Do(func() {
		loadEnv()

		queueConfig = &QueueConfig{
			RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:    getEnv("REDIS_PASSWORD", ""),
			RedisDB:          getEnvInt("REDIS_DB", 0),
			Queue:            getEnv("INGEST_QUEUE", "ingest"),
			MaxDeliveryCount: getEnvInt("INGEST_MAX_DELIVERY_COUNT", 5),
			MaxRenewDuration: getEnvDuration("INGEST_MAX_RENEW_DURATION", 8*time.Hour),
		}
	})
	return queueConfig
}
