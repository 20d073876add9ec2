package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/telemetry-engine/internal/domain"
	"github.com/kursadbilgin/telemetry-engine/internal/hub"
	"github.com/kursadbilgin/telemetry-engine/internal/observability"
	"github.com/kursadbilgin/telemetry-engine/internal/telemetry"
)

type TelemetryService interface {
	Get(ctx context.Context, notificationID string) (*domain.TelemetrySnapshot, error)
	RequestRefresh(ctx context.Context, notificationID string, correlationID string) error
	Parse(ctx context.Context, r io.Reader) (*telemetry.Details, error)
}

type TelemetryHandler struct {
	service TelemetryService
}

func NewTelemetryHandler(service TelemetryService) (*TelemetryHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("telemetry service is required")
	}
	return &TelemetryHandler{service: service}, nil
}

func RegisterTelemetryRoutes(router fiber.Router, service TelemetryService) error {
	h, err := NewTelemetryHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/notifications/:id/telemetry", h.GetTelemetry)
	v1.Post("/notifications/:id/telemetry/refresh", h.RefreshTelemetry)
	v1.Post("/telemetry/parse", h.ParseTelemetry)

	return nil
}

type snapshotResponse struct {
	NotificationID   string                       `json:"notificationId"`
	Location         string                       `json:"location,omitempty"`
	State            string                       `json:"state,omitempty"`
	Terminal         bool                         `json:"terminal"`
	EnqueueTime      *time.Time                   `json:"enqueueTime,omitempty"`
	StartTime        *time.Time                   `json:"startTime,omitempty"`
	EndTime          *time.Time                   `json:"endTime,omitempty"`
	NotificationBody string                       `json:"notificationBody,omitempty"`
	Tags             []string                     `json:"tags"`
	TargetPlatforms  []string                     `json:"targetPlatforms"`
	OutcomeCounts    map[string]map[string]*int64 `json:"outcomeCounts,omitempty"`
	WarningCount     int                          `json:"warningCount"`
	PollCount        int                          `json:"pollCount"`
	NextPollAt       *time.Time                   `json:"nextPollAt,omitempty"`
	FetchedAt        time.Time                    `json:"fetchedAt"`
}

type refreshResponse struct {
	NotificationID string `json:"notificationId"`
	CorrelationID  string `json:"correlationId,omitempty"`
	Status         string `json:"status"`
}

type parseResponse struct {
	Record      *telemetry.Details   `json:"record"`
	Diagnostics []diagnosticResponse `json:"diagnostics"`
}

type diagnosticResponse struct {
	Field    string `json:"field"`
	Provider string `json:"provider,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Value    string `json:"value"`
	Message  string `json:"message"`
}

func (h *TelemetryHandler) GetTelemetry(c *fiber.Ctx) error {
	snapshot, err := h.service.Get(requestContext(c), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSnapshotResponse(snapshot))
}

func (h *TelemetryHandler) RefreshTelemetry(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	correlationID := requestCorrelationID(c)

	if err := h.service.RequestRefresh(requestContext(c), id, correlationID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(refreshResponse{
		NotificationID: id,
		CorrelationID:  correlationID,
		Status:         "queued",
	})
}

// ParseTelemetry parses a NotificationDetails document posted as the request
// body and returns the record with any field diagnostics.
func (h *TelemetryHandler) ParseTelemetry(c *fiber.Ctx) error {
	body := c.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "request body is required")
	}

	details, err := h.service.Parse(requestContext(c), bytes.NewReader(body))
	if err != nil {
		return toHTTPError(err)
	}

	diagnostics := details.Diagnostics()
	resp := parseResponse{
		Record:      details,
		Diagnostics: make([]diagnosticResponse, 0, len(diagnostics)),
	}
	for _, d := range diagnostics {
		resp.Diagnostics = append(resp.Diagnostics, diagnosticResponse{
			Field:    d.Field,
			Provider: d.Provider.String(),
			Outcome:  d.Outcome,
			Value:    d.Value,
			Message:  d.String(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toSnapshotResponse(s *domain.TelemetrySnapshot) snapshotResponse {
	if s == nil {
		return snapshotResponse{}
	}

	resp := snapshotResponse{
		NotificationID:   s.NotificationID,
		Location:         s.Location,
		State:            s.State.String(),
		Terminal:         s.State.IsTerminal(),
		EnqueueTime:      s.EnqueueTime,
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		NotificationBody: s.NotificationBody,
		Tags:             nonNilStrings(s.Tags),
		TargetPlatforms:  nonNilStrings(s.TargetPlatforms),
		WarningCount:     s.WarningCount,
		PollCount:        s.PollCount,
		NextPollAt:       s.NextPollAt,
		FetchedAt:        s.FetchedAt,
	}

	if len(s.Outcomes) > 0 || len(s.ReportedProviders) > 0 {
		resp.OutcomeCounts = make(map[string]map[string]*int64)
		for _, p := range s.ReportedProviders {
			resp.OutcomeCounts[p.String()] = make(map[string]*int64)
		}
		for _, o := range s.Outcomes {
			provider := o.Provider.String()
			if resp.OutcomeCounts[provider] == nil {
				resp.OutcomeCounts[provider] = make(map[string]*int64)
			}
			resp.OutcomeCounts[provider][o.Name] = o.Count
		}
	}

	return resp
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, telemetry.ErrMalformedDocument):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	var hubErr *hub.HubError
	switch {
	case errors.As(err, &hubErr) && hubErr.Transient:
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.As(err, &hubErr):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return err
	}
}
