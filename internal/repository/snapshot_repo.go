package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/telemetry-engine/internal/domain"
	"gorm.io/gorm"
)

type SnapshotRepository interface {
	Upsert(ctx context.Context, s *domain.TelemetrySnapshot) error
	GetByNotificationID(ctx context.Context, notificationID string) (*domain.TelemetrySnapshot, error)
	GetDueForPoll(ctx context.Context, limit int) ([]domain.TelemetrySnapshot, error)
	ClearNextPollAt(ctx context.Context, notificationID string) error
}

type GormSnapshotRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormSnapshotRepo(db *gorm.DB) *GormSnapshotRepo {
	return &GormSnapshotRepo{db: db, now: time.Now}
}

// Upsert stores s as the latest snapshot of its notification, replacing any
// previous outcome rows.
func (r *GormSnapshotRepo) Upsert(ctx context.Context, s *domain.TelemetrySnapshot) error {
	if s == nil {
		return fmt.Errorf("%w: snapshot is required", domain.ErrValidation)
	}
	if err := s.Validate(); err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing TelemetrySnapshotModel
		err := tx.Select("id", "created_at").
			Where("notification_id = ?", s.NotificationID).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if s.ID == "" {
				s.ID = uuid.NewString()
			}
		case err != nil:
			return err
		default:
			s.ID = existing.ID
			s.CreatedAt = existing.CreatedAt
		}

		model := snapshotModelFromDomain(s)
		if err := tx.Omit("Outcomes").Save(model).Error; err != nil {
			return err
		}

		if err := tx.Where("snapshot_id = ?", model.ID).Delete(&OutcomeCountModel{}).Error; err != nil {
			return err
		}
		if len(model.Outcomes) > 0 {
			for i := range model.Outcomes {
				model.Outcomes[i].SnapshotID = model.ID
			}
			if err := tx.Create(&model.Outcomes).Error; err != nil {
				return err
			}
		}

		*s = *snapshotModelToDomain(model)
		return nil
	})
}

func (r *GormSnapshotRepo) GetByNotificationID(ctx context.Context, notificationID string) (*domain.TelemetrySnapshot, error) {
	var model TelemetrySnapshotModel
	err := r.db.WithContext(ctx).
		Preload("Outcomes", func(db *gorm.DB) *gorm.DB {
			return db.Order("provider ASC, name ASC")
		}).
		Where("notification_id = ?", notificationID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snapshotModelToDomain(&model), nil
}

// GetDueForPoll returns snapshots whose follow-up poll time has passed, oldest
// first.
func (r *GormSnapshotRepo) GetDueForPoll(ctx context.Context, limit int) ([]domain.TelemetrySnapshot, error) {
	var models []TelemetrySnapshotModel
	err := r.db.WithContext(ctx).
		Where("next_poll_at IS NOT NULL AND next_poll_at <= ?", r.now().UTC()).
		Order("next_poll_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	snapshots := make([]domain.TelemetrySnapshot, 0, len(models))
	for i := range models {
		snapshots = append(snapshots, *snapshotModelToDomain(&models[i]))
	}
	return snapshots, nil
}

func (r *GormSnapshotRepo) ClearNextPollAt(ctx context.Context, notificationID string) error {
	result := r.db.WithContext(ctx).
		Model(&TelemetrySnapshotModel{}).
		Where("notification_id = ?", notificationID).
		Update("next_poll_at", nil)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
