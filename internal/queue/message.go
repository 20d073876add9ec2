package queue

import (
	"fmt"
	"strings"
)

// PollReason records why a telemetry poll was requested.
type PollReason string

const (
	PollReasonRefresh   PollReason = "refresh"
	PollReasonScheduled PollReason = "scheduled"
)

func (r PollReason) IsValid() bool {
	switch r {
	case PollReasonRefresh, PollReasonScheduled:
		return true
	default:
		return false
	}
}

// PollMessage is the broker payload asking a worker to fetch the telemetry of
// one notification.
type PollMessage struct {
	NotificationID string     `json:"notificationId"`
	CorrelationID  string     `json:"correlationId,omitempty"`
	Reason         PollReason `json:"reason,omitempty"`
}

func (m PollMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if m.Reason != "" && !m.Reason.IsValid() {
		return fmt.Errorf("invalid reason %q", m.Reason)
	}
	return nil
}
