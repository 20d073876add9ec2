package service

import (
	"context"

	"github.com/kursadbilgin/telemetry-engine/internal/domain"
	"github.com/kursadbilgin/telemetry-engine/internal/queue"
	"github.com/kursadbilgin/telemetry-engine/internal/ratelimit"
	"github.com/kursadbilgin/telemetry-engine/internal/repository"
)

type fakeSnapshotRepo struct {
	upsertFn              func(ctx context.Context, s *domain.TelemetrySnapshot) error
	getByNotificationIDFn func(ctx context.Context, notificationID string) (*domain.TelemetrySnapshot, error)
	getDueForPollFn       func(ctx context.Context, limit int) ([]domain.TelemetrySnapshot, error)
	clearNextPollAtFn     func(ctx context.Context, notificationID string) error
}

func (f *fakeSnapshotRepo) Upsert(ctx context.Context, s *domain.TelemetrySnapshot) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, s)
	}
	return nil
}

func (f *fakeSnapshotRepo) GetByNotificationID(ctx context.Context, notificationID string) (*domain.TelemetrySnapshot, error) {
	if f.getByNotificationIDFn != nil {
		return f.getByNotificationIDFn(ctx, notificationID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSnapshotRepo) GetDueForPoll(ctx context.Context, limit int) ([]domain.TelemetrySnapshot, error) {
	if f.getDueForPollFn != nil {
		return f.getDueForPollFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeSnapshotRepo) ClearNextPollAt(ctx context.Context, notificationID string) error {
	if f.clearNextPollAtFn != nil {
		return f.clearNextPollAtFn(ctx, notificationID)
	}
	return nil
}

var _ repository.SnapshotRepository = (*fakeSnapshotRepo)(nil)

type fakeSource struct {
	getFn func(ctx context.Context, notificationID string) ([]byte, error)
}

func (f *fakeSource) GetNotificationTelemetry(ctx context.Context, notificationID string) ([]byte, error) {
	if f.getFn != nil {
		return f.getFn(ctx, notificationID)
	}
	return nil, domain.ErrNotFound
}

type fakeCache struct {
	getFn    func(ctx context.Context, notificationID string) ([]byte, bool, error)
	setFn    func(ctx context.Context, notificationID string, doc []byte) error
	deleteFn func(ctx context.Context, notificationID string) error
}

func (f *fakeCache) Get(ctx context.Context, notificationID string) ([]byte, bool, error) {
	if f.getFn != nil {
		return f.getFn(ctx, notificationID)
	}
	return nil, false, nil
}

func (f *fakeCache) Set(ctx context.Context, notificationID string, doc []byte) error {
	if f.setFn != nil {
		return f.setFn(ctx, notificationID, doc)
	}
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, notificationID string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, notificationID)
	}
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.PollMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.PollMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, scope string) (bool, error)
	waitFn  func(ctx context.Context, scope string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, scope)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeFetcher struct {
	fetchFn func(ctx context.Context, notificationID string) (*FetchResult, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, notificationID string) (*FetchResult, error) {
	if f.fetchFn != nil {
		return f.fetchFn(ctx, notificationID)
	}
	return &FetchResult{Snapshot: &domain.TelemetrySnapshot{NotificationID: notificationID}}, nil
}
