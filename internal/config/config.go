package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	PushGatewayURL    string `env:"PUSH_GATEWAY_URL,required=true"`
	PushGatewayAPIKey string `env:"PUSH_GATEWAY_API_KEY"`

	AWSRegion    string `env:"AWS_REGION,default=eu-west-1"`
	EmailFrom    string `env:"EMAIL_FROM,default=notifications@tribeapp.com"`
	EmailEnabled bool   `env:"EMAIL_ENABLED,default=true"`

	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9090"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	MaxRetryAttempts     int `env:"MAX_RETRY_ATTEMPTS,default=3"`
	BulkChunkSize        int `env:"BULK_CHUNK_SIZE,default=50"`
	BulkChunkPauseMS     int `env:"BULK_CHUNK_PAUSE_MS,default=200"`
	QueueBatchSize       int `env:"QUEUE_BATCH_SIZE,default=100"`
	QueueScanIntervalSec int `env:"QUEUE_SCAN_INTERVAL_SEC,default=30"`
	RetryBatchSize       int `env:"RETRY_BATCH_SIZE,default=100"`
	RetryScanIntervalSec int `env:"RETRY_SCAN_INTERVAL_SEC,default=60"`
	CleanupIntervalMin   int `env:"CLEANUP_INTERVAL_MIN,default=60"`

	NotificationRetentionDays int `env:"NOTIFICATION_RETENTION_DAYS,default=30"`
	DeliveryRetentionDays     int `env:"DELIVERY_RETENTION_DAYS,default=90"`
	PreferenceCacheTTLSec     int `env:"PREFERENCE_CACHE_TTL_SEC,default=300"`
	WorkerConcurrency         int `env:"WORKER_CONCURRENCY,default=8"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// EventingEnabled reports whether a broker is configured. Without one the
// service runs API-only: no ingress workers, lifecycle events are dropped.
func (c *Config) EventingEnabled() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}

func (c *Config) BulkChunkPause() time.Duration {
	return time.Duration(c.BulkChunkPauseMS) * time.Millisecond
}

func (c *Config) QueueScanInterval() time.Duration {
	return time.Duration(c.QueueScanIntervalSec) * time.Second
}

func (c *Config) RetryScanInterval() time.Duration {
	return time.Duration(c.RetryScanIntervalSec) * time.Second
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMin) * time.Minute
}

func (c *Config) PreferenceCacheTTL() time.Duration {
	return time.Duration(c.PreferenceCacheTTLSec) * time.Second
}
