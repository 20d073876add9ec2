package domain

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeCount is one provider outcome row of a telemetry snapshot.
type OutcomeCount struct {
	Provider Provider
	Name     string
	Count    *int64
}

// TelemetrySnapshot is the latest known telemetry for a notification along with
// poll bookkeeping.
type TelemetrySnapshot struct {
	ID                string
	NotificationID    string
	Location          string
	State             State
	EnqueueTime       *time.Time
	StartTime         *time.Time
	EndTime           *time.Time
	NotificationBody  string
	Tags              []string
	TargetPlatforms   []string
	Outcomes          []OutcomeCount
	// ReportedProviders lists every provider whose outcome block appeared,
	// including blocks that yielded no rows.
	ReportedProviders []Provider
	WarningCount      int
	PollCount         int
	NextPollAt        *time.Time
	FetchedAt         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s *TelemetrySnapshot) Validate() error {
	if strings.TrimSpace(s.NotificationID) == "" {
		return fmt.Errorf("%w: notification id is required", ErrValidation)
	}
	for _, p := range s.ReportedProviders {
		if !p.IsValid() {
			return fmt.Errorf("%w: invalid reported provider %q", ErrValidation, p)
		}
	}
	for _, o := range s.Outcomes {
		if !o.Provider.IsValid() {
			return fmt.Errorf("%w: invalid provider %q", ErrValidation, o.Provider)
		}
		if o.Name == "" {
			return fmt.Errorf("%w: outcome name is required for provider %s", ErrValidation, o.Provider)
		}
	}
	return nil
}

// OutcomesFor returns the outcome rows of one provider, preserving order.
func (s *TelemetrySnapshot) OutcomesFor(p Provider) []OutcomeCount {
	var out []OutcomeCount
	for _, o := range s.Outcomes {
		if o.Provider == p {
			out = append(out, o)
		}
	}
	return out
}
