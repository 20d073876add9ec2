package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/kursadbilgin/telemetry-engine/internal/domain"
	"github.com/kursadbilgin/telemetry-engine/internal/observability"
	"github.com/kursadbilgin/telemetry-engine/internal/queue"
	"github.com/kursadbilgin/telemetry-engine/internal/repository"
	"github.com/kursadbilgin/telemetry-engine/internal/telemetry"
	"go.uber.org/zap"
)

const (
	defaultMaxPolls     = 20
	basePollDelay       = 30 * time.Second
	maxPollDelay        = 15 * time.Minute
	maxPollJitterMillis = 1000

	SourceCache = "cache"
	SourceHub   = "hub"
)

// TelemetrySource returns raw telemetry documents, normally the hub client.
type TelemetrySource interface {
	GetNotificationTelemetry(ctx context.Context, notificationID string) ([]byte, error)
}

// DocumentCache stores raw documents of notifications that reached a terminal
// state.
type DocumentCache interface {
	Get(ctx context.Context, notificationID string) ([]byte, bool, error)
	Set(ctx context.Context, notificationID string, doc []byte) error
	Delete(ctx context.Context, notificationID string) error
}

// FetchResult is the outcome of one telemetry fetch.
type FetchResult struct {
	Snapshot *domain.TelemetrySnapshot
	Details  *telemetry.Details
	Source   string
}

type TelemetryService struct {
	snapshots repository.SnapshotRepository
	source    TelemetrySource
	cache     DocumentCache
	publisher queue.Publisher
	parser    *telemetry.Parser
	maxPolls  int
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	randIntn  func(n int) int
}

func NewTelemetryService(
	snapshots repository.SnapshotRepository,
	source TelemetrySource,
	cache DocumentCache,
	publisher queue.Publisher,
	parser *telemetry.Parser,
	maxPolls int,
	logger *zap.Logger,
) (*TelemetryService, error) {
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot repository is required")
	}
	if source == nil {
		return nil, fmt.Errorf("telemetry source is required")
	}
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if parser == nil {
		parser = telemetry.NewParser(logger)
	}

	return &TelemetryService{
		snapshots: snapshots,
		source:    source,
		cache:     cache,
		publisher: publisher,
		parser:    parser,
		maxPolls:  maxPolls,
		logger:    logger,
		now:       time.Now,
		randIntn:  rand.Intn,
	}, nil
}

func (s *TelemetryService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Get returns the stored snapshot for a notification, fetching it from the hub
// when none has been stored yet.
func (s *TelemetryService) Get(ctx context.Context, notificationID string) (*domain.TelemetrySnapshot, error) {
	id, err := normalizeNotificationID(notificationID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.snapshots.GetByNotificationID(ctx, id)
	if err == nil {
		return snapshot, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load telemetry snapshot: %w", err)
	}

	result, err := s.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return result.Snapshot, nil
}

// Fetch reads the telemetry document (cache first, then the hub), parses it and
// stores the resulting snapshot. Non-terminal notifications are scheduled for
// another poll until the poll budget is spent.
func (s *TelemetryService) Fetch(ctx context.Context, notificationID string) (*FetchResult, error) {
	id, err := normalizeNotificationID(notificationID)
	if err != nil {
		return nil, err
	}
	ctx = observability.WithNotificationID(ctx, id)
	logger := observability.WithContextLogger(s.logger, ctx)

	details, source, err := s.loadDetails(ctx, id, logger)
	if err != nil {
		return nil, err
	}

	previous, err := s.snapshots.GetByNotificationID(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load telemetry snapshot: %w", err)
	}

	snapshot := snapshotFromDetails(id, details, s.now().UTC())
	if previous != nil {
		snapshot.PollCount = previous.PollCount
	}
	if source == SourceHub {
		snapshot.PollCount++
	}
	s.schedulePoll(snapshot)

	if err := s.snapshots.Upsert(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to store telemetry snapshot: %w", err)
	}

	logger.Info("telemetry snapshot stored",
		zap.String("source", source),
		zap.String("state", snapshot.State.String()),
		zap.Int("pollCount", snapshot.PollCount),
		zap.Int("warnings", snapshot.WarningCount),
	)

	return &FetchResult{
		Snapshot: snapshot,
		Details:  details,
		Source:   source,
	}, nil
}

// RequestRefresh drops any cached document and queues a poll for the
// notification.
func (s *TelemetryService) RequestRefresh(ctx context.Context, notificationID string, correlationID string) error {
	id, err := normalizeNotificationID(notificationID)
	if err != nil {
		return err
	}
	if s.publisher == nil {
		return fmt.Errorf("poll publisher is not configured")
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to evict cached telemetry",
				zap.String("notificationId", id),
				zap.Error(err),
			)
		}
	}

	msg := queue.PollMessage{
		NotificationID: id,
		CorrelationID:  correlationID,
		Reason:         queue.PollReasonRefresh,
	}
	if err := s.publisher.Publish(ctx, queue.PollQueue, msg); err != nil {
		return fmt.Errorf("failed to enqueue telemetry refresh: %w", err)
	}

	return nil
}

// Parse parses a caller supplied document without touching storage.
func (s *TelemetryService) Parse(ctx context.Context, r io.Reader) (*telemetry.Details, error) {
	return s.parse(ctx, r, observability.WithContextLogger(s.logger, ctx))
}

func (s *TelemetryService) loadDetails(ctx context.Context, id string, logger *zap.Logger) (*telemetry.Details, string, error) {
	if s.cache != nil {
		doc, ok, err := s.cache.Get(ctx, id)
		if err != nil {
			logger.Warn("telemetry cache read failed", zap.Error(err))
		}
		if ok {
			details, err := s.parse(ctx, bytes.NewReader(doc), logger)
			if err == nil {
				s.metrics.IncTelemetryFetch(SourceCache, "ok")
				return details, SourceCache, nil
			}
			logger.Warn("evicting unreadable cached telemetry", zap.Error(err))
			if err := s.cache.Delete(ctx, id); err != nil {
				logger.Warn("failed to evict cached telemetry", zap.Error(err))
			}
		}
	}

	start := s.now()
	doc, err := s.source.GetNotificationTelemetry(ctx, id)
	s.metrics.ObserveTelemetryFetchDuration(SourceHub, s.now().Sub(start))
	if err != nil {
		result := "error"
		if errors.Is(err, domain.ErrNotFound) {
			result = "not_found"
		}
		s.metrics.IncTelemetryFetch(SourceHub, result)
		return nil, "", fmt.Errorf("failed to fetch telemetry: %w", err)
	}

	details, err := s.parse(ctx, bytes.NewReader(doc), logger)
	if err != nil {
		s.metrics.IncTelemetryFetch(SourceHub, "malformed")
		return nil, "", err
	}
	s.metrics.IncTelemetryFetch(SourceHub, "ok")

	if s.cache != nil && details.State().IsTerminal() {
		if err := s.cache.Set(ctx, id, doc); err != nil {
			logger.Warn("failed to cache telemetry", zap.Error(err))
		}
	}

	return details, SourceHub, nil
}

func (s *TelemetryService) parse(ctx context.Context, r io.Reader, logger *zap.Logger) (*telemetry.Details, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	details, err := s.parser.WithLogger(logger).Parse(r)
	if err != nil {
		s.metrics.IncTelemetryParseFailure()
		return nil, fmt.Errorf("failed to parse telemetry: %w", err)
	}

	for _, d := range details.Diagnostics() {
		s.metrics.IncTelemetryFieldWarning(d.Field)
	}
	for _, p := range details.Providers() {
		s.metrics.IncProviderOutcomeReport(p.String())
	}

	return details, nil
}

// schedulePoll sets NextPollAt for notifications still in flight. The delay
// doubles with each poll and is capped at maxPollDelay.
func (s *TelemetryService) schedulePoll(snapshot *domain.TelemetrySnapshot) {
	snapshot.NextPollAt = nil
	if snapshot.State.IsTerminal() || snapshot.PollCount >= s.maxPolls {
		return
	}

	next := s.now().UTC().Add(s.computePollDelay(snapshot.PollCount))
	snapshot.NextPollAt = &next
	s.metrics.IncPollScheduled(snapshot.State.String())
}

func (s *TelemetryService) computePollDelay(pollCount int) time.Duration {
	if pollCount < 1 {
		pollCount = 1
	}

	delay := basePollDelay
	for i := 1; i < pollCount; i++ {
		delay *= 2
		if delay >= maxPollDelay {
			delay = maxPollDelay
			break
		}
	}

	jitterMillis := 0
	if s.randIntn != nil && maxPollJitterMillis > 0 {
		jitterMillis = s.randIntn(maxPollJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func snapshotFromDetails(notificationID string, details *telemetry.Details, fetchedAt time.Time) *domain.TelemetrySnapshot {
	snapshot := &domain.TelemetrySnapshot{
		NotificationID:   notificationID,
		Location:         details.Location(),
		State:            details.State(),
		EnqueueTime:      details.EnqueueTime(),
		StartTime:        details.StartTime(),
		EndTime:          details.EndTime(),
		NotificationBody: details.NotificationBody(),
		Tags:             details.Tags(),
		TargetPlatforms:  details.TargetPlatforms(),
		WarningCount:     len(details.Diagnostics()),
		FetchedAt:        fetchedAt,
	}

	for _, p := range details.Providers() {
		snapshot.ReportedProviders = append(snapshot.ReportedProviders, p)
		outcomes, _ := details.Outcomes(p)
		for _, o := range outcomes {
			snapshot.Outcomes = append(snapshot.Outcomes, domain.OutcomeCount{
				Provider: p,
				Name:     o.Name,
				Count:    o.Count,
			})
		}
	}

	return snapshot
}

func normalizeNotificationID(notificationID string) (string, error) {
	id := strings.TrimSpace(notificationID)
	if id == "" {
		return "", fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return id, nil
}
