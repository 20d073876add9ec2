package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/telemetry-engine/internal/domain"
	"github.com/kursadbilgin/telemetry-engine/internal/hub"
	"github.com/kursadbilgin/telemetry-engine/internal/observability"
	"github.com/kursadbilgin/telemetry-engine/internal/queue"
	"github.com/kursadbilgin/telemetry-engine/internal/ratelimit"
	"github.com/kursadbilgin/telemetry-engine/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// Fetcher fetches and stores the telemetry of one notification.
type Fetcher interface {
	Fetch(ctx context.Context, notificationID string) (*FetchResult, error)
}

type PollWorker struct {
	fetcher     Fetcher
	consumer    queue.Consumer
	rateLimiter ratelimit.RateLimiter
	scope       string
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

// NewPollWorker builds a worker whose hub calls share the rate limit of scope,
// normally the hub name.
func NewPollWorker(
	fetcher Fetcher,
	consumer queue.Consumer,
	rateLimiter ratelimit.RateLimiter,
	scope string,
	concurrency int,
	logger *zap.Logger,
) (*PollWorker, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("telemetry fetcher is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if strings.TrimSpace(scope) == "" {
		return nil, fmt.Errorf("rate limit scope is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PollWorker{
		fetcher:     fetcher,
		consumer:    consumer,
		rateLimiter: rateLimiter,
		scope:       scope,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *PollWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the poll queue with the configured number of goroutines until
// context cancellation.
func (w *PollWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("poll worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.PollQueue),
			)

			err := w.consumer.Consume(groupCtx, queue.PollQueue, w.processMessage)
			if err != nil {
				w.logger.Error("poll worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("poll worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns an error only when the message should be requeued.
func (w *PollWorker) processMessage(ctx context.Context, msg queue.PollMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	ctx = observability.WithNotificationID(ctx, msg.NotificationID)
	logger := observability.WithContextLogger(w.logger, ctx)

	w.metrics.IncPollInFlight()
	defer w.metrics.DecPollInFlight()

	if err := w.rateLimiter.Wait(ctx, w.scope); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	result, err := w.fetcher.Fetch(ctx, msg.NotificationID)
	if err == nil {
		logger.Debug("telemetry poll completed",
			zap.String("reason", string(msg.Reason)),
			zap.String("state", result.Snapshot.State.String()),
		)
		return nil
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("notification has no telemetry, dropping poll", zap.Error(err))
		return nil
	case errors.Is(err, domain.ErrValidation), errors.Is(err, telemetry.ErrMalformedDocument):
		logger.Error("telemetry poll failed permanently", zap.Error(err))
		return nil
	case hub.IsTransient(err):
		logger.Warn("telemetry poll failed, requeueing", zap.Error(err))
		return err
	}

	var hubErr *hub.HubError
	if errors.As(err, &hubErr) {
		logger.Error("hub rejected telemetry request", zap.Error(err))
		return nil
	}

	return err
}
