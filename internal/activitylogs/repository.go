// Package activitylogs stores facilitator weekly activity logs and feeds the
// compliance scan with submission facts.
package activitylogs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Kosisookeke/course-management/pkg/db/models"
)

// Repository exposes persistence helpers for activity logs.
type Repository interface {
	Create(ctx context.Context, log *models.ActivityLog) error
	Exists(ctx context.Context, allocationID uuid.UUID, weekNumber int) (bool, error)
	ListByAllocationAndWeekRange(ctx context.Context, allocationID uuid.UUID, fromWeek, toWeek int) ([]models.ActivityLog, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an activity log repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) Create(ctx context.Context, log *models.ActivityLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *repositoryImpl) Exists(ctx context.Context, allocationID uuid.UUID, weekNumber int) (bool, error) {
	var log models.ActivityLog
	err := r.db.WithContext(ctx).
		Select("id").
		Where("allocation_id = ? AND week_number = ?", allocationID, weekNumber).
		First(&log).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repositoryImpl) ListByAllocationAndWeekRange(ctx context.Context, allocationID uuid.UUID, fromWeek, toWeek int) ([]models.ActivityLog, error) {
	var logs []models.ActivityLog
	err := r.db.WithContext(ctx).
		Where("allocation_id = ? AND week_number BETWEEN ? AND ?", allocationID, fromWeek, toWeek).
		Order("week_number ASC").
		Find(&logs).Error
	return logs, err
}
