package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

// HubConfig holds the settings needed to query a notification hub.
type HubConfig struct {
	ConnectionString string `env:"HUB_CONNECTION_STRING,required=true"`
	HubName          string `env:"HUB_NAME,required=true"`
	APIVersion       string `env:"HUB_API_VERSION,default=2016-07"`
	TimeoutSec       int    `env:"HUB_TIMEOUT_SEC,default=10"`
}

func (c HubConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

type Config struct {
	Hub                  HubConfig
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL          string `env:"RABBITMQ_URL,required=true"`
	RedisURL             string `env:"REDIS_URL,required=true"`
	HubRateLimitPerSec   int    `env:"HUB_RATE_LIMIT_PER_SEC,default=10"`
	PollConcurrency      int    `env:"POLL_CONCURRENCY,default=4"`
	PollScanIntervalSec  int    `env:"POLL_SCAN_INTERVAL_SEC,default=15"`
	MaxPolls             int    `env:"MAX_POLLS,default=20"`
	TelemetryCacheTTLSec int    `env:"TELEMETRY_CACHE_TTL_SEC,default=86400"`
	APIPort              int    `env:"API_PORT,default=8080"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
}

func (c *Config) PollScanInterval() time.Duration {
	return time.Duration(c.PollScanIntervalSec) * time.Second
}

func (c *Config) TelemetryCacheTTL() time.Duration {
	return time.Duration(c.TelemetryCacheTTLSec) * time.Second
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadHub reads only the hub settings, for tools that do not need the
// database, broker or cache.
func LoadHub() (*HubConfig, error) {
	var cfg HubConfig
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load hub config: %w", err)
	}
	return &cfg, nil
}
