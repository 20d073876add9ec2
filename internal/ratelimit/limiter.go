package ratelimit

import "context"

// RateLimiter throttles calls against a shared upstream, keyed by scope (the
// hub name for telemetry queries).
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
