package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// trackingIDHeader carries the hub's per-request id; support cases need it.
const trackingIDHeader = "TrackingId"

// HubError is a failed management API call. Transient errors are worth
// retrying on a later poll.
type HubError struct {
	StatusCode int
	Message    string
	TrackingID string
	Transient  bool
	Cause      error
}

func (e *HubError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("hub error")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status=%d", e.StatusCode)
	}
	if e.TrackingID != "" {
		fmt.Fprintf(&b, ": trackingId=%s", e.TrackingID)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": " + msg)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *HubError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a telemetry query should be retried later.
// Deadlines and network timeouts count; caller cancellation does not.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var hubErr *HubError
	if errors.As(err, &hubErr) {
		return hubErr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
