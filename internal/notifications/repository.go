package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Kosisookeke/course-management/pkg/db/models"
	"github.com/Kosisookeke/course-management/pkg/enums"
)

// Repository exposes persistence helpers for notification records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, cause error, now time.Time) (bool, error)
	CountByStatus(ctx context.Context) (map[enums.NotificationStatus]int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *repositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	var notification models.Notification
	err := r.db.WithContext(ctx).
		Preload("Recipient").
		Preload("CourseOffering").
		Preload("CourseOffering.Module").
		Preload("CourseOffering.Class").
		First(&notification, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &notification, nil
}

// MarkSent advances a pending notification to sent. Terminal records are left
// untouched and reported as not updated.
func (r *repositoryImpl) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND status = ?", id, enums.NotificationStatusPending).
		Updates(map[string]any{
			"status":     enums.NotificationStatusSent,
			"sent_at":    now,
			"updated_at": now,
		})
	return result.RowsAffected > 0, result.Error
}

// MarkFailed moves a pending notification to failed and merges the delivery
// error into its metadata, keeping whatever keys were already there.
func (r *repositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, cause error, now time.Time) (bool, error) {
	updated := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var notification models.Notification
		if err := tx.First(&notification, "id = ?", id).Error; err != nil {
			return err
		}
		if notification.Status != enums.NotificationStatusPending {
			return nil
		}

		meta := map[string]any{}
		if len(notification.Metadata) > 0 {
			if err := json.Unmarshal(notification.Metadata, &meta); err != nil {
				meta = map[string]any{}
			}
		}
		meta["error"] = cause.Error()
		meta["failedAt"] = now.UTC().Format(time.RFC3339Nano)
		merged, err := json.Marshal(meta)
		if err != nil {
			return err
		}

		result := tx.Model(&models.Notification{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":     enums.NotificationStatusFailed,
				"metadata":   merged,
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		updated = result.RowsAffected > 0
		return nil
	})
	return updated, err
}

func (r *repositoryImpl) CountByStatus(ctx context.Context) (map[enums.NotificationStatus]int64, error) {
	type row struct {
		Status enums.NotificationStatus
		Total  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.NotificationStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}

// DeleteOlderThan drops terminal notifications created before the cutoff.
// Pending records are never reaped.
func (r *repositoryImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ? AND status IN ?", cutoff, []enums.NotificationStatus{
			enums.NotificationStatusSent,
			enums.NotificationStatusFailed,
		}).
		Delete(&models.Notification{})
	return result.RowsAffected, result.Error
}
