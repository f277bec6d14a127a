package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Kosisookeke/course-management/internal/queue"
	"github.com/Kosisookeke/course-management/pkg/academic"
	"github.com/Kosisookeke/course-management/pkg/db/models"
	"github.com/Kosisookeke/course-management/pkg/logger"
)

type offeringLister interface {
	ListWithFacilitator(ctx context.Context) ([]models.CourseOffering, error)
}

type logChecker interface {
	Exists(ctx context.Context, allocationID uuid.UUID, weekNumber int) (bool, error)
}

type reminderQueuer interface {
	QueueFacilitatorReminder(ctx context.Context, facilitatorID, allocationID uuid.UUID, weekNumber int, delay time.Duration) (*models.Notification, *queue.Job, error)
}

// WeeklyReminderJobParams wires the Monday reminder trigger.
type WeeklyReminderJobParams struct {
	Logger       *logger.Logger
	Allocations  offeringLister
	ActivityLogs logChecker
	Queue        reminderQueuer
}

// NewWeeklyReminderJob builds the trigger that reminds every facilitator
// without a current-week log to submit one. Fires on Mondays.
func NewWeeklyReminderJob(params WeeklyReminderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Allocations == nil {
		return nil, fmt.Errorf("allocations repository required")
	}
	if params.ActivityLogs == nil {
		return nil, fmt.Errorf("activity logs repository required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("notification queue service required")
	}
	return &weeklyReminderJob{
		logg:        params.Logger,
		allocations: params.Allocations,
		logs:        params.ActivityLogs,
		queue:       params.Queue,
		now:         time.Now,
	}, nil
}

type weeklyReminderJob struct {
	logg        *logger.Logger
	allocations offeringLister
	logs        logChecker
	queue       reminderQueuer
	now         func() time.Time
}

func (j *weeklyReminderJob) Name() string { return "weekly-facilitator-reminders" }

func (j *weeklyReminderJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	if now.Weekday() != time.Monday {
		return nil
	}
	currentWeek := academic.WeekOf(now)

	offerings, err := j.allocations.ListWithFacilitator(ctx)
	if err != nil {
		return fmt.Errorf("list course offerings: %w", err)
	}

	queued := 0
	for _, offering := range offerings {
		if offering.FacilitatorID == nil {
			continue
		}
		offeringCtx := j.logg.WithAllocationID(ctx, offering.ID.String())

		exists, err := j.logs.Exists(ctx, offering.ID, currentWeek)
		if err != nil {
			j.logg.Error(offeringCtx, "check current-week log", err)
			continue
		}
		if exists {
			continue
		}

		if _, _, err := j.queue.QueueFacilitatorReminder(ctx, *offering.FacilitatorID, offering.ID, currentWeek, 0); err != nil {
			j.logg.Error(offeringCtx, "queue facilitator reminder", err)
			continue
		}
		queued++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"week_number": currentWeek,
		"queued":      queued,
	})
	j.logg.Info(logCtx, "facilitator reminders queued")
	return nil
}
