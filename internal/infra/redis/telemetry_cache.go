package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	telemetryKeyPrefix  = "telemetry:doc:"
	defaultTelemetryTTL = 24 * time.Hour
)

// TelemetryCache stores raw telemetry documents of notifications that reached a
// terminal state, so repeated lookups skip the hub.
type TelemetryCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewTelemetryCache(client *goredis.Client, ttl time.Duration) (*TelemetryCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultTelemetryTTL
	}

	return &TelemetryCache{client: client, ttl: ttl}, nil
}

func (c *TelemetryCache) Get(ctx context.Context, notificationID string) ([]byte, bool, error) {
	key, err := telemetryKey(notificationID)
	if err != nil {
		return nil, false, err
	}

	doc, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached telemetry: %w", err)
	}

	return doc, true, nil
}

func (c *TelemetryCache) Set(ctx context.Context, notificationID string, doc []byte) error {
	key, err := telemetryKey(notificationID)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, key, doc, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache telemetry: %w", err)
	}
	return nil
}

func (c *TelemetryCache) Delete(ctx context.Context, notificationID string) error {
	key, err := telemetryKey(notificationID)
	if err != nil {
		return err
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to evict cached telemetry: %w", err)
	}
	return nil
}

func telemetryKey(notificationID string) (string, error) {
	id := strings.TrimSpace(notificationID)
	if id == "" {
		return "", fmt.Errorf("notification id is required")
	}
	return telemetryKeyPrefix + id, nil
}
