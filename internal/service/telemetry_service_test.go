package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/telemetry-engine/internal/domain"
	"github.com/kursadbilgin/telemetry-engine/internal/observability"
	"github.com/kursadbilgin/telemetry-engine/internal/queue"
	"github.com/kursadbilgin/telemetry-engine/internal/telemetry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const completedDoc = `<NotificationDetails>
  <NotificationId>n-1</NotificationId>
  <State>Completed</State>
  <EnqueueTime>2026-03-01T10:00:00Z</EnqueueTime>
  <EndTime>2026-03-01T10:00:04Z</EndTime>
  <Tags>vip,beta</Tags>
  <ApnsOutcomeCounts>
    <Outcome><Name>Success</Name><Count>10</Count></Outcome>
    <Outcome><Name>Failure</Name><Count>2</Count></Outcome>
  </ApnsOutcomeCounts>
  <WnsOutcomeCounts>
    <Outcome><Name>Throttled</Name><Count>1</Count></Outcome>
  </WnsOutcomeCounts>
</NotificationDetails>`

const processingDoc = `<NotificationDetails>
  <NotificationId>n-2</NotificationId>
  <State>Processing</State>
  <StartTime>not a date</StartTime>
</NotificationDetails>`

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestTelemetryService(
	t *testing.T,
	repo *fakeSnapshotRepo,
	source *fakeSource,
	cache *fakeCache,
	publisher *fakePublisher,
	logger *zap.Logger,
) *TelemetryService {
	t.Helper()

	var docCache DocumentCache
	if cache != nil {
		docCache = cache
	}
	var pub queue.Publisher
	if publisher != nil {
		pub = publisher
	}

	svc, err := NewTelemetryService(repo, source, docCache, pub, nil, 5, logger)
	if err != nil {
		t.Fatalf("NewTelemetryService() error = %v", err)
	}
	svc.now = func() time.Time { return fixedNow }
	svc.randIntn = func(n int) int { return 0 }
	svc.SetMetrics(observability.NewMetrics())
	return svc
}

func TestNewTelemetryServiceValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewTelemetryService(nil, &fakeSource{}, nil, nil, nil, 0, nil); err == nil {
		t.Fatal("expected error when snapshot repository is nil")
	}
	if _, err := NewTelemetryService(&fakeSnapshotRepo{}, nil, nil, nil, nil, 0, nil); err == nil {
		t.Fatal("expected error when telemetry source is nil")
	}

	svc, err := NewTelemetryService(&fakeSnapshotRepo{}, &fakeSource{}, nil, nil, nil, 0, nil)
	if err != nil {
		t.Fatalf("NewTelemetryService() error = %v", err)
	}
	if svc.maxPolls != defaultMaxPolls {
		t.Fatalf("maxPolls = %d, want %d", svc.maxPolls, defaultMaxPolls)
	}
}

func TestTelemetryServiceFetchTerminalFromHub(t *testing.T) {
	t.Parallel()

	var stored *domain.TelemetrySnapshot
	var cachedID string
	repo := &fakeSnapshotRepo{
		upsertFn: func(ctx context.Context, s *domain.TelemetrySnapshot) error {
			stored = s
			return nil
		},
	}
	source := &fakeSource{
		getFn: func(ctx context.Context, id string) ([]byte, error) {
			if id != "n-1" {
				t.Fatalf("hub id = %q, want n-1", id)
			}
			return []byte(completedDoc), nil
		},
	}
	cache := &fakeCache{
		setFn: func(ctx context.Context, id string, doc []byte) error {
			cachedID = id
			if string(doc) != completedDoc {
				t.Fatal("cached document differs from hub document")
			}
			return nil
		},
	}

	svc := newTestTelemetryService(t, repo, source, cache, nil, nil)
	result, err := svc.Fetch(context.Background(), "  n-1 ")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if result.Source != SourceHub {
		t.Fatalf("Source = %q, want %q", result.Source, SourceHub)
	}
	if cachedID != "n-1" {
		t.Fatalf("cached id = %q, want n-1", cachedID)
	}
	if stored == nil || stored != result.Snapshot {
		t.Fatal("snapshot should be stored and returned")
	}
	if stored.State != domain.StateCompleted {
		t.Fatalf("State = %q, want Completed", stored.State)
	}
	if stored.PollCount != 1 {
		t.Fatalf("PollCount = %d, want 1", stored.PollCount)
	}
	if stored.NextPollAt != nil {
		t.Fatalf("NextPollAt = %v, want nil for terminal state", stored.NextPollAt)
	}
	if !stored.FetchedAt.Equal(fixedNow) {
		t.Fatalf("FetchedAt = %v, want %v", stored.FetchedAt, fixedNow)
	}
	if len(stored.Tags) != 2 || stored.Tags[0] != "vip" {
		t.Fatalf("Tags = %q", stored.Tags)
	}

	apns := stored.OutcomesFor(domain.ProviderApns)
	if len(apns) != 2 || apns[0].Name != "Failure" || apns[1].Name != "Success" {
		t.Fatalf("Apns outcomes = %+v, want sorted Failure, Success", apns)
	}
	if apns[1].Count == nil || *apns[1].Count != 10 {
		t.Fatalf("Apns Success count = %v, want 10", apns[1].Count)
	}
	if wns := stored.OutcomesFor(domain.ProviderWns); len(wns) != 1 {
		t.Fatalf("Wns outcomes = %+v, want 1", wns)
	}
	if gcm := stored.OutcomesFor(domain.ProviderGcm); len(gcm) != 0 {
		t.Fatalf("Gcm outcomes = %+v, want none", gcm)
	}
}

func TestTelemetryServiceFetchSchedulesPollForInFlightState(t *testing.T) {
	t.Parallel()

	var stored *domain.TelemetrySnapshot
	cacheSet := false
	repo := &fakeSnapshotRepo{
		getByNotificationIDFn: func(ctx context.Context, id string) (*domain.TelemetrySnapshot, error) {
			return &domain.TelemetrySnapshot{NotificationID: id, PollCount: 2}, nil
		},
		upsertFn: func(ctx context.Context, s *domain.TelemetrySnapshot) error {
			stored = s
			return nil
		},
	}
	source := &fakeSource{
		getFn: func(ctx context.Context, id string) ([]byte, error) {
			return []byte(processingDoc), nil
		},
	}
	cache := &fakeCache{
		setFn: func(ctx context.Context, id string, doc []byte) error {
			cacheSet = true
			return nil
		},
	}

	svc := newTestTelemetryService(t, repo, source, cache, nil, nil)
	result, err := svc.Fetch(context.Background(), "n-2")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if cacheSet {
		t.Fatal("in-flight documents must not be cached")
	}
	if stored.PollCount != 3 {
		t.Fatalf("PollCount = %d, want 3", stored.PollCount)
	}
	wantNext := fixedNow.Add(4 * basePollDelay)
	if stored.NextPollAt == nil || !stored.NextPollAt.Equal(wantNext) {
		t.Fatalf("NextPollAt = %v, want %v", stored.NextPollAt, wantNext)
	}
	if stored.WarningCount != 1 {
		t.Fatalf("WarningCount = %d, want 1", stored.WarningCount)
	}
	if stored.StartTime != nil {
		t.Fatalf("StartTime = %v, want nil after conversion failure", stored.StartTime)
	}
	if len(result.Details.Diagnostics()) != 1 {
		t.Fatalf("Diagnostics = %v, want 1", result.Details.Diagnostics())
	}
}

func TestTelemetryServiceFetchStopsPollingAtBudget(t *testing.T) {
	t.Parallel()

	var stored *domain.TelemetrySnapshot
	repo := &fakeSnapshotRepo{
		getByNotificationIDFn: func(ctx context.Context, id string) (*domain.TelemetrySnapshot, error) {
			return &domain.TelemetrySnapshot{NotificationID: id, PollCount: 4}, nil
		},
		upsertFn: func(ctx context.Context, s *domain.TelemetrySnapshot) error {
			stored = s
			return nil
		},
	}
	source := &fakeSource{
		getFn: func(ctx context.Context, id string) ([]byte, error) {
			return []byte(processingDoc), nil
		},
	}

	svc := newTestTelemetryService(t, repo, source, nil, nil, nil)
	if _, err := svc.Fetch(context.Background(), "n-2"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if stored.PollCount != 5 {
		t.Fatalf("PollCount = %d, want 5", stored.PollCount)
	}
	if stored.NextPollAt != nil {
		t.Fatalf("NextPollAt = %v, want nil once the poll budget is spent", stored.NextPollAt)
	}
}

func TestTelemetryServiceFetchUsesCache(t *testing.T) {
	t.Parallel()

	var stored *domain.TelemetrySnapshot
	repo := &fakeSnapshotRepo{
		getByNotificationIDFn: func(ctx context.Context, id string) (*domain.TelemetrySnapshot, error) {
			return &domain.TelemetrySnapshot{NotificationID: id, PollCount: 3}, nil
		},
		upsertFn: func(ctx context.Context, s *domain.TelemetrySnapshot) error {
			stored = s
			return nil
		},
	}
	source := &fakeSource{
		getFn: func(ctx context.Context, id string) ([]byte, error) {
			t.Fatal("hub should not be called on cache hit")
			return nil, nil
		},
	}
	cache := &fakeCache{
		getFn: func(ctx context.Context, id string) ([]byte, bool, error) {
			return []byte(completedDoc), true, nil
		},
	}

	svc := newTestTelemetryService(t, repo, source, cache, nil, nil)
	result, err := svc.Fetch(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if result.Source != SourceCache {
		t.Fatalf("Source = %q, want %q", result.Source, SourceCache)
	}
	if stored.PollCount != 3 {
		t.Fatalf("PollCount = %d, want 3 on cache hit", stored.PollCount)
	}
}

func TestTelemetryServiceFetchEvictsUnreadableCacheEntry(t *testing.T) {
	t.Parallel()

	evicted := false
	hubCalled := false
	source := &fakeSource{
		getFn: func(ctx context.Context, id string) ([]byte, error) {
			hubCalled = true
			return []byte(completedDoc), nil
		},
	}
	cache := &fakeCache{
		getFn: func(ctx context.Context, id string) ([]byte, bool, error) {
			return []byte("<NotificationDetails>"), true, nil
		},
		deleteFn: func(ctx context.Context, id string) error {
			evicted = true
			return nil
		},
	}

	svc := newTestTelemetryService(t, &fakeSnapshotRepo{}, source, cache, nil, nil)
	result, err := svc.Fetch(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if !evicted {
		t.Fatal("unreadable cache entry should be evicted")
	}
	if !hubCalled || result.Source != SourceHub {
		t.Fatal("fetch should fall back to the hub")
	}
}

func TestTelemetryServiceFetchErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		hubErr  error
		wantErr error
	}{
		{name: "not found", hubErr: domain.ErrNotFound, wantErr: domain.ErrNotFound},
		{name: "malformed", doc: "<NotificationDetails><State>", wantErr: telemetry.ErrMalformedDocument},
		{name: "wrong root", doc: "<Other/>", wantErr: telemetry.ErrMalformedDocument},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := &fakeSnapshotRepo{
				upsertFn: func(ctx context.Context, s *domain.TelemetrySnapshot) error {
					t.Fatal("nothing should be stored on failure")
					return nil
				},
			}
			source := &fakeSource{
				getFn: func(ctx context.Context, id string) ([]byte, error) {
					if tt.hubErr != nil {
						return nil, tt.hubErr
					}
					return []byte(tt.doc), nil
				},
			}
			cache := &fakeCache{
				setFn: func(ctx context.Context, id string, doc []byte) error {
					t.Fatal("nothing should be cached on failure")
					return nil
				},
			}

			svc := newTestTelemetryService(t, repo, source, cache, nil, nil)
			_, err := svc.Fetch(context.Background(), "n-err")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Fetch() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTelemetryServiceFetchRejectsBlankID(t *testing.T) {
	t.Parallel()

	svc := newTestTelemetryService(t, &fakeSnapshotRepo{}, &fakeSource{}, nil, nil, nil)
	if _, err := svc.Fetch(context.Background(), " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Fetch() error = %v, want ErrValidation", err)
	}
}

func TestTelemetryServiceGet(t *testing.T) {
	t.Parallel()

	t.Run("stored snapshot", func(t *testing.T) {
		t.Parallel()

		repo := &fakeSnapshotRepo{
			getByNotificationIDFn: func(ctx context.Context, id string) (*domain.TelemetrySnapshot, error) {
				return &domain.TelemetrySnapshot{NotificationID: id, State: domain.StateAbandoned}, nil
			},
		}
		source := &fakeSource{
			getFn: func(ctx context.Context, id string) ([]byte, error) {
				t.Fatal("hub should not be called when a snapshot is stored")
				return nil, nil
			},
		}

		svc := newTestTelemetryService(t, repo, source, nil, nil, nil)
		snapshot, err := svc.Get(context.Background(), "n-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if snapshot.State != domain.StateAbandoned {
			t.Fatalf("State = %q, want Abandoned", snapshot.State)
		}
	})

	t.Run("fetches when missing", func(t *testing.T) {
		t.Parallel()

		source := &fakeSource{
			getFn: func(ctx context.Context, id string) ([]byte, error) {
				return []byte(completedDoc), nil
			},
		}

		svc := newTestTelemetryService(t, &fakeSnapshotRepo{}, source, nil, nil, nil)
		snapshot, err := svc.Get(context.Background(), "n-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if snapshot.State != domain.StateCompleted {
			t.Fatalf("State = %q, want Completed", snapshot.State)
		}
	})

	t.Run("repository failure", func(t *testing.T) {
		t.Parallel()

		repo := &fakeSnapshotRepo{
			getByNotificationIDFn: func(ctx context.Context, id string) (*domain.TelemetrySnapshot, error) {
				return nil, errors.New("db unavailable")
			},
		}

		svc := newTestTelemetryService(t, repo, &fakeSource{}, nil, nil, nil)
		if _, err := svc.Get(context.Background(), "n-1"); err == nil {
			t.Fatal("expected Get() error")
		}
	})
}

func TestTelemetryServiceRequestRefresh(t *testing.T) {
	t.Parallel()

	var published queue.PollMessage
	var queueName string
	evicted := ""
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, name string, msg queue.PollMessage) error {
			queueName = name
			published = msg
			return nil
		},
	}
	cache := &fakeCache{
		deleteFn: func(ctx context.Context, id string) error {
			evicted = id
			return errors.New("redis down")
		},
	}

	svc := newTestTelemetryService(t, &fakeSnapshotRepo{}, &fakeSource{}, cache, publisher, nil)
	if err := svc.RequestRefresh(context.Background(), "n-1", "corr-1"); err != nil {
		t.Fatalf("RequestRefresh() error = %v", err)
	}

	if queueName != queue.PollQueue {
		t.Fatalf("queue = %q, want %q", queueName, queue.PollQueue)
	}
	if published.NotificationID != "n-1" || published.CorrelationID != "corr-1" {
		t.Fatalf("published = %+v", published)
	}
	if published.Reason != queue.PollReasonRefresh {
		t.Fatalf("Reason = %q, want refresh", published.Reason)
	}
	if evicted != "n-1" {
		t.Fatalf("evicted = %q, want n-1", evicted)
	}

	if err := svc.RequestRefresh(context.Background(), "", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("RequestRefresh(\"\") error = %v, want ErrValidation", err)
	}
}

func TestTelemetryServiceRequestRefreshPublishFailure(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, name string, msg queue.PollMessage) error {
			return errors.New("broker down")
		},
	}

	svc := newTestTelemetryService(t, &fakeSnapshotRepo{}, &fakeSource{}, nil, publisher, nil)
	err := svc.RequestRefresh(context.Background(), "n-1", "")
	if err == nil || !strings.Contains(err.Error(), "failed to enqueue telemetry refresh") {
		t.Fatalf("RequestRefresh() error = %v", err)
	}

	noPublisher := newTestTelemetryService(t, &fakeSnapshotRepo{}, &fakeSource{}, nil, nil, nil)
	if err := noPublisher.RequestRefresh(context.Background(), "n-1", ""); err == nil {
		t.Fatal("expected error without publisher")
	}
}

func TestTelemetryServiceParseLogsWithRequestContext(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	svc := newTestTelemetryService(t, &fakeSnapshotRepo{}, &fakeSource{}, nil, nil, zap.New(core))

	ctx := observability.WithCorrelationID(context.Background(), "corr-9")
	details, err := svc.Parse(ctx, strings.NewReader(processingDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if details.State() != domain.StateProcessing {
		t.Fatalf("State = %q, want Processing", details.State())
	}

	entries := logs.FilterMessage("telemetry field conversion failed").All()
	if len(entries) != 1 {
		t.Fatalf("warn entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["correlationId"] != "corr-9" {
		t.Fatalf("correlationId = %v, want corr-9", fields["correlationId"])
	}
	if fields["field"] != "StartTime" {
		t.Fatalf("field = %v, want StartTime", fields["field"])
	}
}

func TestTelemetryServiceParseMalformed(t *testing.T) {
	t.Parallel()

	svc := newTestTelemetryService(t, &fakeSnapshotRepo{}, &fakeSource{}, nil, nil, nil)
	if _, err := svc.Parse(context.Background(), strings.NewReader("not xml")); !errors.Is(err, telemetry.ErrMalformedDocument) {
		t.Fatalf("Parse() error = %v, want ErrMalformedDocument", err)
	}
}

func TestComputePollDelay(t *testing.T) {
	t.Parallel()

	svc := newTestTelemetryService(t, &fakeSnapshotRepo{}, &fakeSource{}, nil, nil, nil)

	tests := []struct {
		pollCount int
		want      time.Duration
	}{
		{pollCount: 0, want: basePollDelay},
		{pollCount: 1, want: basePollDelay},
		{pollCount: 2, want: 2 * basePollDelay},
		{pollCount: 3, want: 4 * basePollDelay},
		{pollCount: 10, want: maxPollDelay},
	}

	for _, tt := range tests {
		if got := svc.computePollDelay(tt.pollCount); got != tt.want {
			t.Fatalf("computePollDelay(%d) = %v, want %v", tt.pollCount, got, tt.want)
		}
	}

	svc.randIntn = func(n int) int { return n - 1 }
	if got := svc.computePollDelay(1); got != basePollDelay+maxPollJitterMillis*time.Millisecond {
		t.Fatalf("computePollDelay with jitter = %v", got)
	}
}

func TestTelemetryServiceFetchKeepsEmptyProviderBlocks(t *testing.T) {
	t.Parallel()

	const doc = `<NotificationDetails>
  <State>Completed</State>
  <GcmOutcomeCounts>
    <Outcome><Count>3</Count></Outcome>
  </GcmOutcomeCounts>
  <WnsOutcomeCounts>
    <Outcome><Name>Success</Name><Count>1</Count></Outcome>
  </WnsOutcomeCounts>
</NotificationDetails>`

	var stored *domain.TelemetrySnapshot
	repo := &fakeSnapshotRepo{
		upsertFn: func(ctx context.Context, s *domain.TelemetrySnapshot) error {
			stored = s
			return nil
		},
	}
	source := &fakeSource{
		getFn: func(ctx context.Context, id string) ([]byte, error) {
			return []byte(doc), nil
		},
	}

	svc := newTestTelemetryService(t, repo, source, nil, nil, nil)
	if _, err := svc.Fetch(context.Background(), "n-7"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	want := []domain.Provider{domain.ProviderGcm, domain.ProviderWns}
	if len(stored.ReportedProviders) != len(want) {
		t.Fatalf("ReportedProviders = %v, want %v", stored.ReportedProviders, want)
	}
	for i, p := range want {
		if stored.ReportedProviders[i] != p {
			t.Fatalf("ReportedProviders = %v, want %v", stored.ReportedProviders, want)
		}
	}
	if gcm := stored.OutcomesFor(domain.ProviderGcm); len(gcm) != 0 {
		t.Fatalf("Gcm outcomes = %+v, want none", gcm)
	}
	if stored.WarningCount != 1 {
		t.Fatalf("WarningCount = %d, want 1", stored.WarningCount)
	}
}
