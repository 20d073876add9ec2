package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/telemetry-engine/internal/domain"
	"github.com/kursadbilgin/telemetry-engine/internal/hub"
	"github.com/kursadbilgin/telemetry-engine/internal/observability"
	"github.com/kursadbilgin/telemetry-engine/internal/telemetry"
	"github.com/kursadbilgin/telemetry-engine/internal/transport"
	"go.uber.org/zap"
)

func TestTelemetryIntegration_GetTelemetry(t *testing.T) {
	t.Parallel()

	success := int64(10)
	fetchedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubTelemetryService{
		getFn: func(ctx context.Context, id string) (*domain.TelemetrySnapshot, error) {
			switch id {
			case "n-found":
				return &domain.TelemetrySnapshot{
					NotificationID: "n-found",
					State:          domain.StateCompleted,
					Tags:           []string{"vip"},
					Outcomes: []domain.OutcomeCount{
						{Provider: domain.ProviderApns, Name: "Success", Count: &success},
						{Provider: domain.ProviderApns, Name: "Unknown"},
					},
					ReportedProviders: []domain.Provider{domain.ProviderApns, domain.ProviderGcm},
					PollCount:         2,
					FetchedAt:         fetchedAt,
				}, nil
			case "n-busy":
				return nil, &hub.HubError{StatusCode: 503, Message: "busy", Transient: true}
			case "n-denied":
				return nil, &hub.HubError{StatusCode: 401, Message: "unauthorized"}
			default:
				return nil, domain.ErrNotFound
			}
		},
	}

	app := newTelemetryTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications/n-found/telemetry", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["notificationId"] != "n-found" {
		t.Fatalf("notificationId = %v, want n-found", parsed["notificationId"])
	}
	if parsed["terminal"] != true {
		t.Fatalf("terminal = %v, want true", parsed["terminal"])
	}
	if parsed["fetchedAt"] != "2026-03-01T10:00:00Z" {
		t.Fatalf("fetchedAt = %v", parsed["fetchedAt"])
	}
	platforms, ok := parsed["targetPlatforms"].([]any)
	if !ok || len(platforms) != 0 {
		t.Fatalf("targetPlatforms = %v, want empty list", parsed["targetPlatforms"])
	}
	byProvider := parsed["outcomeCounts"].(map[string]any)
	if gcm, present := byProvider["Gcm"].(map[string]any); !present || len(gcm) != 0 {
		t.Fatalf("Gcm = %v, want an empty map for a reported provider", byProvider["Gcm"])
	}
	if _, present := byProvider["Wns"]; present {
		t.Fatal("Wns was never reported and should be absent")
	}
	outcomes := byProvider["Apns"].(map[string]any)
	if outcomes["Success"] != float64(10) {
		t.Fatalf("Apns.Success = %v, want 10", outcomes["Success"])
	}
	if v, present := outcomes["Unknown"]; !present || v != nil {
		t.Fatalf("Apns.Unknown = %v (present=%v), want null", v, present)
	}

	tests := []struct {
		path string
		want int
	}{
		{path: "/v1/notifications/n-missing/telemetry", want: fiber.StatusNotFound},
		{path: "/v1/notifications/n-busy/telemetry", want: fiber.StatusServiceUnavailable},
		{path: "/v1/notifications/n-denied/telemetry", want: fiber.StatusBadGateway},
	}
	for _, tt := range tests {
		resp, _ := performRequest(t, app, http.MethodGet, tt.path, "")
		if resp.StatusCode != tt.want {
			t.Fatalf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestTelemetryIntegration_RefreshTelemetry(t *testing.T) {
	t.Parallel()

	var gotID, gotCorrelation, ctxCorrelation string
	svc := &stubTelemetryService{
		refreshFn: func(ctx context.Context, id string, correlationID string) error {
			if id == "invalid" {
				return fmt.Errorf("%w: notification id is malformed", domain.ErrValidation)
			}
			gotID = id
			gotCorrelation = correlationID
			ctxCorrelation, _ = observability.CorrelationIDFromContext(ctx)
			return nil
		},
	}

	app := newTelemetryTestApp(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/notifications/n-1/telemetry/refresh", nil)
	req.Header.Set(fiber.HeaderXRequestID, "corr-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}
	if gotID != "n-1" || gotCorrelation != "corr-42" || ctxCorrelation != "corr-42" {
		t.Fatalf("refresh called with id=%q correlation=%q ctx=%q", gotID, gotCorrelation, ctxCorrelation)
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["status"] != "queued" {
		t.Fatalf("status = %v, want queued", parsed["status"])
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/invalid/telemetry/refresh", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid id", resp.StatusCode)
	}
}

func TestTelemetryIntegration_ParseTelemetry(t *testing.T) {
	t.Parallel()

	app := newTelemetryTestApp(t, &stubTelemetryService{})

	doc := `<NotificationDetails>
  <NotificationId>n-7</NotificationId>
  <State>Processing</State>
  <EnqueueTime>yesterday</EnqueueTime>
  <Tags>a,b</Tags>
  <GcmOutcomeCounts>
    <Outcome><Name>Success</Name><Count>3</Count></Outcome>
    <Outcome><Name>Dropped</Name><Count>many</Count></Outcome>
  </GcmOutcomeCounts>
</NotificationDetails>`

	resp, body := performRequest(t, app, http.MethodPost, "/v1/telemetry/parse", doc)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Record struct {
			NotificationID string                                `json:"notificationId"`
			State          string                                `json:"state"`
			EnqueueTime    *string                               `json:"enqueueTime"`
			Tags           []string                              `json:"tags"`
			OutcomeCounts  map[string]map[string]json.RawMessage `json:"outcomeCounts"`
		} `json:"record"`
		Diagnostics []diagnosticResponse `json:"diagnostics"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}

	if parsed.Record.NotificationID != "n-7" || parsed.Record.State != "Processing" {
		t.Fatalf("record = %+v", parsed.Record)
	}
	if parsed.Record.EnqueueTime != nil {
		t.Fatalf("enqueueTime = %v, want absent", *parsed.Record.EnqueueTime)
	}
	if len(parsed.Record.Tags) != 2 {
		t.Fatalf("tags = %v", parsed.Record.Tags)
	}
	gcm := parsed.Record.OutcomeCounts["Gcm"]
	if string(gcm["Success"]) != "3" || string(gcm["Dropped"]) != "null" {
		t.Fatalf("Gcm outcomes = %v", gcm)
	}

	if len(parsed.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %+v, want 2", parsed.Diagnostics)
	}
	if parsed.Diagnostics[0].Field != "EnqueueTime" || parsed.Diagnostics[0].Value != "yesterday" {
		t.Fatalf("first diagnostic = %+v", parsed.Diagnostics[0])
	}
	if parsed.Diagnostics[1].Provider != "Gcm" || parsed.Diagnostics[1].Outcome != "Dropped" {
		t.Fatalf("second diagnostic = %+v", parsed.Diagnostics[1])
	}
}

func TestTelemetryIntegration_ParseTelemetryRejectsBadInput(t *testing.T) {
	t.Parallel()

	app := newTelemetryTestApp(t, &stubTelemetryService{})

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "whitespace body", body: "  \n"},
		{name: "malformed xml", body: "<NotificationDetails><State>Completed</NotificationDetails>"},
		{name: "wrong root", body: "<Feed/>"},
	}

	for _, tt := range tests {
		resp, body := performRequest(t, app, http.MethodPost, "/v1/telemetry/parse", tt.body)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400, body=%s", tt.name, resp.StatusCode, string(body))
		}
	}
}

func TestRegisterTelemetryRoutesRequiresService(t *testing.T) {
	t.Parallel()

	if err := RegisterTelemetryRoutes(fiber.New(), nil); err == nil {
		t.Fatal("expected error for nil service")
	}
}

type stubTelemetryService struct {
	getFn     func(ctx context.Context, id string) (*domain.TelemetrySnapshot, error)
	refreshFn func(ctx context.Context, id string, correlationID string) error
	parseFn   func(ctx context.Context, r io.Reader) (*telemetry.Details, error)
}

func (s *stubTelemetryService) Get(ctx context.Context, id string) (*domain.TelemetrySnapshot, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubTelemetryService) RequestRefresh(ctx context.Context, id string, correlationID string) error {
	if s.refreshFn != nil {
		return s.refreshFn(ctx, id, correlationID)
	}
	return errors.New("not implemented")
}

func (s *stubTelemetryService) Parse(ctx context.Context, r io.Reader) (*telemetry.Details, error) {
	if s.parseFn != nil {
		return s.parseFn(ctx, r)
	}
	return telemetry.Parse(r)
}

func newTelemetryTestApp(t *testing.T, svc TelemetryService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterTelemetryRoutes(app, svc); err != nil {
		t.Fatalf("RegisterTelemetryRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationXML)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}
