package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/telemetry-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultHubCallsPerSec int64 = 10
	hubWindow                   = time.Second
	minWindowWait               = 5 * time.Millisecond
	rateLimitKeyPrefix          = "telemetry:ratelimit:"
)

// takeSlotScript returns {1, 0} when a slot was granted and {0, pttl} with the
// milliseconds left in the window otherwise.
var takeSlotScript = goredis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if used > tonumber(ARGV[1]) then
  return {0, redis.call("PTTL", KEYS[1])}
end
return {1, 0}
`)

var _ ratelimit.RateLimiter = (*HubRateLimiter)(nil)

// HubRateLimiter caps management API calls per hub across every process that
// shares the Redis instance. Windows are aligned to wall-clock seconds.
type HubRateLimiter struct {
	client      *goredis.Client
	callsPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewHubRateLimiter(client *goredis.Client, callsPerSec int) (*HubRateLimiter, error) {
	return newHubRateLimiter(client, int64(callsPerSec), time.Now, sleepWithContext)
}

func newHubRateLimiter(
	client *goredis.Client,
	callsPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*HubRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if callsPerSec <= 0 {
		callsPerSec = defaultHubCallsPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &HubRateLimiter{
		client:      client,
		callsPerSec: callsPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (l *HubRateLimiter) Allow(ctx context.Context, hub string) (bool, error) {
	granted, _, err := l.take(ctx, hub)
	return granted, err
}

// Wait blocks until a slot is granted, sleeping out the rest of the current
// window after each rejection.
func (l *HubRateLimiter) Wait(ctx context.Context, hub string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		granted, retryIn, err := l.take(ctx, hub)
		if err != nil {
			return err
		}
		if granted {
			return nil
		}
		if err := l.sleep(ctx, retryIn); err != nil {
			return err
		}
	}
}

func (l *HubRateLimiter) take(ctx context.Context, hub string) (bool, time.Duration, error) {
	if l == nil || l.client == nil {
		return false, 0, fmt.Errorf("rate limiter is not initialized")
	}

	scope := strings.ToLower(strings.TrimSpace(hub))
	if scope == "" {
		return false, 0, fmt.Errorf("rate limit scope is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := l.now().UTC()
	window := now.Truncate(hubWindow)
	key := fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, scope, window.Unix())

	reply, err := takeSlotScript.Run(ctx, l.client, []string{key}, l.callsPerSec, hubWindow.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to evaluate hub rate limit: %w", err)
	}
	if len(reply) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply %v", reply)
	}
	if reply[0] == 1 {
		return true, 0, nil
	}

	return false, retryDelay(reply[1], window.Add(hubWindow).Sub(now)), nil
}

// retryDelay prefers the TTL reported by Redis and falls back to the local
// distance to the next window when the key carries no expiry.
func retryDelay(pttlMillis int64, untilNextWindow time.Duration) time.Duration {
	d := untilNextWindow
	if pttlMillis > 0 {
		d = time.Duration(pttlMillis) * time.Millisecond
	}
	if d < minWindowWait {
		d = minWindowWait
	}
	if d > hubWindow {
		d = hubWindow
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
