package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/telemetry-engine/internal/domain"
)

const (
	defaultHubTimeout = 10 * time.Second
	defaultAPIVersion = "2016-07"
)

// Options configures a Client.
type Options struct {
	ConnectionString string
	HubName          string
	APIVersion       string
	Timeout          time.Duration
}

// Client queries the notification hub REST API for per-message telemetry.
type Client struct {
	client     *resty.Client
	conn       ConnectionString
	hubName    string
	apiVersion string
	now        func() time.Time
}

func NewClient(opts Options) (*Client, error) {
	client := resty.New()
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHubTimeout
	}
	client.SetTimeout(timeout)

	return NewClientWithResty(opts, client)
}

func NewClientWithResty(opts Options, client *resty.Client) (*Client, error) {
	conn, err := ParseConnectionString(opts.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid hub connection string: %w", err)
	}

	hubName := strings.TrimSpace(opts.HubName)
	if hubName == "" {
		return nil, fmt.Errorf("hub name is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHubTimeout)
	}
	client.SetRetryCount(0)

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}

	return &Client{
		client:     client,
		conn:       conn,
		hubName:    hubName,
		apiVersion: apiVersion,
		now:        time.Now,
	}, nil
}

// HubName returns the hub this client queries.
func (c *Client) HubName() string {
	if c == nil {
		return ""
	}
	return c.hubName
}

// GetNotificationTelemetry returns the raw NotificationDetails document for a
// previously sent notification. A missing notification yields domain.ErrNotFound.
func (c *Client) GetNotificationTelemetry(ctx context.Context, notificationID string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("hub client is not initialized")
	}

	id := strings.TrimSpace(notificationID)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	resource := fmt.Sprintf("%s/%s/messages/%s", c.conn.Endpoint, url.PathEscape(c.hubName), url.PathEscape(id))
	token := sasToken(resource, c.conn.KeyName, c.conn.Key, c.now().Add(sasTokenTTL))

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", token).
		SetHeader("Accept", "application/xml").
		SetQueryParam("api-version", c.apiVersion).
		Get(resource)
	if err != nil {
		return nil, &HubError{
			Message:   "telemetry request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &HubError{
			Message:   "hub returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode == http.StatusOK {
		body := response.Body()
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}
	if statusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: notification %q has no telemetry", domain.ErrNotFound, id)
	}

	return nil, &HubError{
		StatusCode: statusCode,
		Message:    hubErrorMessage(statusCode, strings.TrimSpace(response.String())),
		TrackingID: response.Header().Get(trackingIDHeader),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func hubErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("hub returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
