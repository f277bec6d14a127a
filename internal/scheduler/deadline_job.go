package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Kosisookeke/course-management/internal/notifications"
	"github.com/Kosisookeke/course-management/internal/queue"
	"github.com/Kosisookeke/course-management/pkg/academic"
	"github.com/Kosisookeke/course-management/pkg/db/models"
	"github.com/Kosisookeke/course-management/pkg/logger"
)

type warningQueuer interface {
	QueueDeadlineWarning(ctx context.Context, facilitatorID, allocationID uuid.UUID, weekNumber int, course notifications.CourseInfo, delay time.Duration) (*models.Notification, *queue.Job, error)
}

// DeadlineWarningJobParams wires the Thursday deadline warning trigger.
type DeadlineWarningJobParams struct {
	Logger       *logger.Logger
	Allocations  offeringLister
	ActivityLogs logChecker
	Queue        warningQueuer
}

// NewDeadlineWarningJob builds the trigger that warns facilitators who still
// have no current-week log that the submission window closes at week end.
// Fires on Thursdays.
func NewDeadlineWarningJob(params DeadlineWarningJobParams) (Job, error) {
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
	return &deadlineWarningJob{
		logg:        params.Logger,
		allocations: params.Allocations,
		logs:        params.ActivityLogs,
		queue:       params.Queue,
		now:         time.Now,
	}, nil
}

type deadlineWarningJob struct {
	logg        *logger.Logger
	allocations offeringLister
	logs        logChecker
	queue       warningQueuer
	now         func() time.Time
}

func (j *deadlineWarningJob) Name() string { return "deadline-warnings" }

func (j *deadlineWarningJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	if now.Weekday() != time.Thursday {
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

		course := notifications.CourseInfo{
			ModuleName: offering.Module.Name,
			ModuleCode: offering.Module.Code,
			ClassName:  offering.Class.Name,
		}
		if _, _, err := j.queue.QueueDeadlineWarning(ctx, *offering.FacilitatorID, offering.ID, currentWeek, course, 0); err != nil {
			j.logg.Error(offeringCtx, "queue deadline warning", err)
			continue
		}
		queued++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"week_number": currentWeek,
		"queued":      queued,
	})
	j.logg.Info(logCtx, "deadline warnings queued")
	return nil
}
