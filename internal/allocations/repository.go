// Package allocations reads course offerings for the notification engine.
// An allocation is a course offering assigned to a facilitator.
package allocations

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Kosisookeke/course-management/pkg/db/models"
)

// Repository exposes read helpers over course offerings.
type Repository interface {
	GetWithCourseInfo(ctx context.Context, id uuid.UUID) (*models.CourseOffering, error)
	ListWithFacilitator(ctx context.Context) ([]models.CourseOffering, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an allocations repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) GetWithCourseInfo(ctx context.Context, id uuid.UUID) (*models.CourseOffering, error) {
	var offering models.CourseOffering
	err := r.db.WithContext(ctx).
		Preload("Module").
		Preload("Class").
		First(&offering, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &offering, nil
}

// ListWithFacilitator returns every offering that has a facilitator assigned,
// with the facilitator and course context loaded. The compliance scan walks
// this set.
func (r *repositoryImpl) ListWithFacilitator(ctx context.Context) ([]models.CourseOffering, error) {
	var offerings []models.CourseOffering
	err := r.db.WithContext(ctx).
		Where("facilitator_id IS NOT NULL").
		Preload("Facilitator").
		Preload("Module").
		Preload("Class").
		Find(&offerings).Error
	return offerings, err
}
