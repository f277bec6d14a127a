package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Kosisookeke/course-management/pkg/logger"
)

const notificationRetentionDays = 30

type notificationReaper interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationRetentionJobParams wires the daily record retention trigger.
type NotificationRetentionJobParams struct {
	Logger     *logger.Logger
	Repository notificationReaper
	Retention  int
}

// NewNotificationRetentionJob builds the trigger that deletes terminal
// notification records older than the retention window. Pending records are
// never touched. Runs every cycle.
func NewNotificationRetentionJob(params NotificationRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = notificationRetentionDays
	}
	return &notificationRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type notificationRetentionJob struct {
	logg      *logger.Logger
	repo      notificationReaper
	retention int
	now       func() time.Time
}

func (j *notificationRetentionJob) Name() string { return "notification-retention" }

func (j *notificationRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("notification retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "notification retention complete")
	return nil
}
