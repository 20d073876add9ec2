package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/telemetry-engine/internal/queue"
	"github.com/kursadbilgin/telemetry-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPollScanInterval = 15 * time.Second
	defaultPollScanLimit    = 100
)

// PollScanner periodically enqueues snapshots whose next poll is due.
type PollScanner struct {
	snapshots repository.SnapshotRepository
	publisher queue.Publisher
	logger    *zap.Logger
	interval  time.Duration
	limit     int
	newID     func() string
}

func NewPollScanner(
	snapshots repository.SnapshotRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*PollScanner, error) {
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultPollScanInterval
	}
	if limit <= 0 {
		limit = defaultPollScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PollScanner{
		snapshots: snapshots,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		newID:     uuid.NewString,
	}, nil
}

func (s *PollScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("poll scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("poll scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *PollScanner) scanDue(ctx context.Context) error {
	due, err := s.snapshots.GetDueForPoll(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due polls: %w", err)
	}

	for i := range due {
		snapshot := due[i]
		msg := queue.PollMessage{
			NotificationID: snapshot.NotificationID,
			CorrelationID:  s.newID(),
			Reason:         queue.PollReasonScheduled,
		}

		if err := s.publisher.Publish(ctx, queue.PollQueue, msg); err != nil {
			s.logger.Error("failed to enqueue telemetry poll",
				zap.String("notificationId", snapshot.NotificationID),
				zap.Error(err),
			)
			continue
		}

		if err := s.snapshots.ClearNextPollAt(ctx, snapshot.NotificationID); err != nil {
			s.logger.Error("failed to clear next poll timestamp after enqueue",
				zap.String("notificationId", snapshot.NotificationID),
				zap.Error(err),
			)
			continue
		}
	}

	return nil
}
