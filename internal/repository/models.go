package repository

import (
	"strings"
	"time"

	"github.com/kursadbilgin/telemetry-engine/internal/domain"
)

// TelemetrySnapshotModel is the persistence model for telemetry_snapshots.
type TelemetrySnapshotModel struct {
	ID                string              `gorm:"type:uuid;primaryKey"`
	NotificationID    string              `gorm:"type:varchar(255);not null;uniqueIndex"`
	Location          string              `gorm:"type:text"`
	State             domain.State        `gorm:"type:varchar(40)"`
	EnqueueTime       *time.Time          `gorm:"type:timestamptz"`
	StartTime         *time.Time          `gorm:"type:timestamptz"`
	EndTime           *time.Time          `gorm:"type:timestamptz"`
	NotificationBody  string              `gorm:"type:text"`
	Tags              string              `gorm:"type:text"`
	TargetPlatforms   string              `gorm:"type:text"`
	// ReportedProviders is the comma separated list of providers that sent an
	// outcome block, so an empty block stays distinguishable from none.
	ReportedProviders string              `gorm:"type:varchar(64);not null;default:''"`
	WarningCount      int                 `gorm:"not null;default:0"`
	PollCount         int                 `gorm:"not null;default:0"`
	NextPollAt        *time.Time          `gorm:"type:timestamptz"`
	FetchedAt         time.Time           `gorm:"type:timestamptz;not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Outcomes          []OutcomeCountModel `gorm:"foreignKey:SnapshotID;constraint:OnDelete:CASCADE"`
}

func (TelemetrySnapshotModel) TableName() string {
	return "telemetry_snapshots"
}

// OutcomeCountModel is the persistence model for outcome_counts.
type OutcomeCountModel struct {
	ID         uint            `gorm:"primaryKey"`
	SnapshotID string          `gorm:"type:uuid;not null;index"`
	Provider   domain.Provider `gorm:"type:varchar(10);not null"`
	Name       string          `gorm:"type:varchar(128);not null"`
	Count      *int64          `gorm:"type:bigint"`
}

func (OutcomeCountModel) TableName() string {
	return "outcome_counts"
}

func snapshotModelFromDomain(s *domain.TelemetrySnapshot) *TelemetrySnapshotModel {
	if s == nil {
		return nil
	}

	outcomes := make([]OutcomeCountModel, 0, len(s.Outcomes))
	for _, o := range s.Outcomes {
		outcomes = append(outcomes, OutcomeCountModel{
			SnapshotID: s.ID,
			Provider:   o.Provider,
			Name:       o.Name,
			Count:      o.Count,
		})
	}

	return &TelemetrySnapshotModel{
		ID:                s.ID,
		NotificationID:    s.NotificationID,
		Location:          s.Location,
		State:             s.State,
		EnqueueTime:       s.EnqueueTime,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		NotificationBody:  s.NotificationBody,
		Tags:              joinList(s.Tags),
		TargetPlatforms:   joinList(s.TargetPlatforms),
		ReportedProviders: joinProviders(s.ReportedProviders),
		WarningCount:      s.WarningCount,
		PollCount:         s.PollCount,
		NextPollAt:        s.NextPollAt,
		FetchedAt:         s.FetchedAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		Outcomes:          outcomes,
	}
}

func snapshotModelToDomain(m *TelemetrySnapshotModel) *domain.TelemetrySnapshot {
	if m == nil {
		return nil
	}

	var outcomes []domain.OutcomeCount
	for _, o := range m.Outcomes {
		outcomes = append(outcomes, domain.OutcomeCount{
			Provider: o.Provider,
			Name:     o.Name,
			Count:    o.Count,
		})
	}

	return &domain.TelemetrySnapshot{
		ID:                m.ID,
		NotificationID:    m.NotificationID,
		Location:          m.Location,
		State:             m.State,
		EnqueueTime:       m.EnqueueTime,
		StartTime:         m.StartTime,
		EndTime:           m.EndTime,
		NotificationBody:  m.NotificationBody,
		Tags:              splitList(m.Tags),
		TargetPlatforms:   splitList(m.TargetPlatforms),
		Outcomes:          outcomes,
		ReportedProviders: splitProviders(m.ReportedProviders),
		WarningCount:      m.WarningCount,
		PollCount:         m.PollCount,
		NextPollAt:        m.NextPollAt,
		FetchedAt:         m.FetchedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// Lists are stored in their wire form: comma separated, entries verbatim.
func joinList(values []string) string {
	return strings.Join(values, ",")
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}

func joinProviders(providers []domain.Provider) string {
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.String())
	}
	return joinList(names)
}

// splitProviders drops names that are no longer recognized providers.
func splitProviders(value string) []domain.Provider {
	var out []domain.Provider
	for _, name := range splitList(value) {
		if p, err := domain.ParseProviderFromString(name); err == nil {
			out = append(out, p)
		}
	}
	return out
}
